// Package sshkey provisions the per-project ed25519 keypair used for SSH
// access to the guest. The reference implementation shells out to
// ssh-keygen; this port generates and marshals the keypair natively.
package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// EnsureKeypair generates an ed25519 keypair at privatePath/publicPath if
// either file is missing; both files are then rewritten from the new key.
// The two files are written one after the other in place (private key
// first), not through a temp-file rename, so a failure between the writes
// can leave a new private key beside an old or missing public key.
func EnsureKeypair(privatePath, publicPath string) error {
	if _, err := os.Stat(privatePath); err == nil {
		if _, err := os.Stat(publicPath); err == nil {
			return nil
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "vibebox")
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}
	if err := os.WriteFile(privatePath, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return fmt.Errorf("deriving public key: %w", err)
	}
	if err := os.WriteFile(publicPath, ssh.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	return nil
}
