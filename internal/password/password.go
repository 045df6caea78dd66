// Package password hashes and verifies user passwords with
// PBKDF2-HMAC-SHA512. Stored hashes are a "salt:hex(derived)" composite so a
// single string column carries everything verification needs.
package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 100000
	keyLength  = 64
	saltBytes  = 16
)

// Hash derives a composite "salt:hex(derived)" hash for the password using a
// fresh random salt.
func Hash(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hashWithSalt(password, hex.EncodeToString(salt)), nil
}

// hashWithSalt derives the composite for an existing hex salt. The salt is
// fed to PBKDF2 as its hex string form, matching how the stored composites
// were produced.
func hashWithSalt(password, salt string) string {
	derived := pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLength, sha512.New)
	return salt + ":" + hex.EncodeToString(derived)
}

// Verify recomputes the composite from the stored salt and compares it
// constant-time against the stored value. Malformed composites never verify.
func Verify(password, stored string) bool {
	salt, _, ok := strings.Cut(stored, ":")
	if !ok || salt == "" {
		return false
	}
	computed := hashWithSalt(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}
