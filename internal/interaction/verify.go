package interaction

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// Signature headers on the inbound request.
const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// Verifier checks ed25519 signatures over inbound payloads. The platform
// signs timestamp||body; the public key is operator configuration.
type Verifier struct {
	pub ed25519.PublicKey
}

// NewVerifier parses a hex-encoded ed25519 public key.
func NewVerifier(hexKey string) (*Verifier, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes (got %d)", ed25519.PublicKeySize, len(raw))
	}
	return &Verifier{pub: ed25519.PublicKey(raw)}, nil
}

// Verify reports whether sigHex is a valid signature of timestamp||body.
func (v *Verifier) Verify(timestamp string, body []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(v.pub, msg, sig)
}
