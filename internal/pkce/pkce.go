// Package pkce generates Proof Key for Code Exchange verifier/challenge pairs
// using the S256 method (RFC 7636).
package pkce

import "golang.org/x/oauth2"

// Method is the code_challenge_method sent with every authorization request.
const Method = "S256"

// GenerateVerifier returns a verifier built from 32 bytes of crypto/rand,
// base64url-encoded without padding.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// ChallengeFor returns base64url(SHA-256(verifier)) without padding.
func ChallengeFor(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
