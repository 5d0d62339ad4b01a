package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Short returns the first 12 hex characters, for logs.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// ContentHash hashes the canonical JSON encoding of v. Struct fields encode
// in declaration order and map keys sorted, so equal values hash equally.
func ContentHash(v interface{}) (Hash, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return NewHash(data), nil
}
