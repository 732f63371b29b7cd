package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// TokenSetKind identifies the targeting mechanism of a token set.
type TokenSetKind string

const (
	TokenSetSingleToken  TokenSetKind = "single-token"
	TokenSetContractWide TokenSetKind = "contract-wide"
	TokenSetTokenList    TokenSetKind = "token-list"
	TokenSetDynamic      TokenSetKind = "dynamic"
)

// TokenSet identifies the group of tokens an order applies to. Token sets are
// created on first reference by an order and are immutable thereafter, keyed
// by a deterministic id encoding kind and content.
type TokenSet struct {
	ID         string
	SchemaHash string
	Kind       TokenSetKind
	Contract   string
	TokenID    *big.Int // single-token only
	MerkleRoot string   // token-list only
	Criteria   string   // dynamic only
	// Schema is the optional attribute/criteria description behind a
	// merkle-committed list, kept for provenance.
	Schema json.RawMessage
}

// SingleTokenSetID derives the deterministic id for a single-token set.
func SingleTokenSetID(contract string, tokenID *big.Int) string {
	return fmt.Sprintf("token:%s:%s", contract, tokenID.String())
}

// ContractWideTokenSetID derives the deterministic id for a contract-wide set.
func ContractWideTokenSetID(contract string) string {
	return "contract:" + contract
}

// TokenListSetID derives the deterministic id for a merkle-committed list.
func TokenListSetID(contract, merkleRoot string) string {
	return fmt.Sprintf("list:%s:%s", contract, merkleRoot)
}

// DynamicTokenSetID derives the deterministic id for a collection-criteria set.
func DynamicTokenSetID(contract, criteria string) string {
	return fmt.Sprintf("dynamic:%s:%s", contract, criteria)
}
