// Package hash provides hashing utilities for stable keys.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// PairKey returns a stable key for a (query, document) pair.
// A NUL separator keeps ("ab", "c") and ("a", "bc") apart.
func PairKey(query, documentID string) string {
	return SHA256Short([]byte(query+"\x00"+documentID), 32)
}

// Token maps a token to a 32-bit bucket.
func Token(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}
