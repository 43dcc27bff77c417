// Package pkce implements the S256 Proof Key for Code Exchange primitives
// (RFC 7636). The façade uses them twice per authorization: once to check the
// external client's verifier against the challenge it supplied up front, and
// once to derive the challenge sent with the façade's own verifier to the
// upstream provider.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
)

const (
	minVerifierBytes = 22
	maxVerifierBytes = 64
)

var base64URLPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CodeChallenge derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)), unpadded.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyChallenge reports whether verifier hashes to challenge under S256.
// The comparison is constant-time.
func VerifyChallenge(verifier, challenge string) bool {
	derived := CodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}

// GenerateVerifier returns a fresh code verifier for the upstream exchange:
// 22-64 random bytes, hex-encoded.
func GenerateVerifier() (string, error) {
	span := int64(maxVerifierBytes - minVerifierBytes + 1)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("pkce: generate verifier length: %w", err)
	}
	buf := make([]byte, minVerifierBytes+n.Int64())
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pkce: generate verifier: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateChallengeFormat checks that a code_challenge is a plausible S256
// value: base64url, 43-128 characters, decoding to a 32-byte SHA-256 digest.
func ValidateChallengeFormat(challenge string) error {
	if challenge == "" {
		return fmt.Errorf("code_challenge is required")
	}
	if len(challenge) < 43 || len(challenge) > 128 {
		return fmt.Errorf("code_challenge length must be between 43 and 128 characters")
	}
	if !base64URLPattern.MatchString(challenge) {
		return fmt.Errorf("code_challenge must be valid BASE64URL")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(challenge)
	if err != nil {
		return fmt.Errorf("code_challenge must be valid BASE64URL")
	}
	if len(decoded) != 32 {
		return fmt.Errorf("code_challenge must encode a 32-byte SHA-256 digest")
	}
	return nil
}
