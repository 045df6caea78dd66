package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// S256Challenge derives the S256 code challenge for a verifier:
// base64url-no-pad(SHA-256(verifier)).
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyChallenge checks a PKCE verifier against the challenge recorded on
// the authorization code. Both methods compare constant-time; an unknown
// method never verifies.
func VerifyChallenge(verifier, challenge, method string) bool {
	var computed string
	switch method {
	case PKCEMethodPlain:
		computed = verifier
	case PKCEMethodS256, "":
		// S256 is the default when the method was omitted at authorization time.
		computed = S256Challenge(verifier)
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
