package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against a
// marketplace order feed.
type HMACAuth struct {
	Key    string // feed API key
	Secret string // feed API secret
}

// FeedHeaders returns the HTTP headers for a feed subscription handshake.
// The signature is HMAC-SHA256(secret, timestamp+method+path) encoded as
// base64.
//
// Returned header keys:
//   - X-FEED-API-KEY
//   - X-FEED-TIMESTAMP
//   - X-FEED-SIGNATURE
func (h *HMACAuth) FeedHeaders(method, path string) map[string]string {
	return h.FeedHeadersAt(method, path, time.Now().Unix())
}

// FeedHeadersAt is like FeedHeaders but lets the caller supply the Unix
// timestamp (useful for deterministic testing).
func (h *HMACAuth) FeedHeadersAt(method, path string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-FEED-API-KEY":   h.Key,
		"X-FEED-TIMESTAMP": ts,
		"X-FEED-SIGNATURE": sig,
	}
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
