package util

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// NewID returns a 24-character hex identifier.
func NewID() string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// IsID reports whether s has the shape of a record identifier.
func IsID(s string) bool {
	return idPattern.MatchString(s)
}

// NewToken returns a 64-character hex token for verification and refresh flows.
func NewToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
