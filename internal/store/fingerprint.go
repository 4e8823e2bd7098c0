package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes the deterministic cache key for an analytics query
// described by (query text, lower time bound, upper time bound).
func Fingerprint(query, earliest, latest string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(earliest))
	h.Write([]byte{0})
	h.Write([]byte(latest))
	return hex.EncodeToString(h.Sum(nil))
}
