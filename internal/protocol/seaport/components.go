package seaport

import "encoding/json"

// Item types, mirroring the exchange contract's ItemType enum.
const (
	ItemNative          = 0
	ItemERC20           = 1
	ItemERC721          = 2
	ItemERC1155         = 3
	ItemERC721Criteria  = 4
	ItemERC1155Criteria = 5
)

// Order types, mirroring the exchange contract's OrderType enum. Even values
// are not partially fillable; values above 1 are zone-gated ("restricted").
const (
	OrderFullOpen          = 0
	OrderPartialOpen       = 1
	OrderFullRestricted    = 2
	OrderPartialRestricted = 3
)

// Item is one offer or consideration entry of a signed order.
type Item struct {
	ItemType             int    `json:"itemType"`
	Token                string `json:"token"`
	IdentifierOrCriteria string `json:"identifierOrCriteria"`
	StartAmount          string `json:"startAmount"`
	EndAmount            string `json:"endAmount"`
	// Recipient is set on consideration items only.
	Recipient string `json:"recipient,omitempty"`
}

// Components is the protocol-native signed order blob. It round-trips through
// JSON unchanged and is persisted verbatim as the canonical row's raw data.
type Components struct {
	Offerer       string `json:"offerer"`
	Zone          string `json:"zone"`
	Offer         []Item `json:"offer"`
	Consideration []Item `json:"consideration"`
	OrderType     int    `json:"orderType"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	ZoneHash      string `json:"zoneHash"`
	Salt          string `json:"salt"`
	ConduitKey    string `json:"conduitKey"`
	Counter       string `json:"counter"`
	Signature     string `json:"signature,omitempty"`
	// PermitID/PermitIndex mark orders ingested under a delayed-validation
	// permit; they ride along in the raw data.
	PermitID    string `json:"permitId,omitempty"`
	PermitIndex int    `json:"permitIndex,omitempty"`
}

func (c *Components) marshal() (json.RawMessage, error) {
	return json.Marshal(c)
}
