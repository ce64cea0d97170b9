package project

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// randomSudoPassword returns a 26-character lowercase base32 password derived from
// crypto/rand, suitable for the guest's passwordless-sudo replacement.
func randomSudoPassword() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return strings.ToLower(enc), nil
}
