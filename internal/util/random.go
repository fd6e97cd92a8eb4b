package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// suffixChars excludes visually ambiguous characters so generated file
// names stay readable in directory listings and URLs.
var suffixChars = []rune("23456789abcdefghjkmnpqrstvwxyz")

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomToken returns a URL-safe random token carrying n bytes of entropy.
// Used for OIDC state/nonce values and PKCE verifiers.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomSuffix returns n random characters from a lowercase, unambiguous
// alphabet, suitable for collision-resistant file name suffixes.
func RandomSuffix(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixChars))))
		if err != nil {
			return "", fmt.Errorf("generating random suffix: %w", err)
		}
		sb.WriteRune(suffixChars[idx.Int64()])
	}
	return sb.String(), nil
}
