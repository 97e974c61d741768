package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
)

// SigningKeys is an ed25519 key pair for interaction tests.
type SigningKeys struct {
	PublicHex string
	priv      ed25519.PrivateKey
}

// NewSigningKeys generates a fresh key pair.
func NewSigningKeys(t *testing.T) *SigningKeys {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating ed25519 keys: %v", err)
	}
	return &SigningKeys{PublicHex: hex.EncodeToString(pub), priv: priv}
}

// Sign returns the hex signature of timestamp||body.
func (k *SigningKeys) Sign(timestamp string, body []byte) string {
	msg := append([]byte(timestamp), body...)
	return hex.EncodeToString(ed25519.Sign(k.priv, msg))
}
