// Package util holds small helpers shared across the auth and resource
// servers.
package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomHex returns n random bytes encoded as 2n hex characters. It backs
// opaque artifacts like authorization codes and refresh tokens.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SafeTruncate shortens s to at most maxLen characters. Used when logging
// token and code prefixes so full credentials never reach the logs.
func SafeTruncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
