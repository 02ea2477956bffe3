// Package keys handles secret key material: generation, derivation, and
// scoped plaintext handles that are zeroed after use.
package keys

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"nostr-accountd/internal/nips"
)

// Generate creates a new random secp256k1 secret key
func Generate() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// DerivePublicKey derives the x-only public key (32 bytes, BIP-340) from a secret key
func DerivePublicKey(secret []byte) ([]byte, error) {
	if len(secret) != 32 {
		return nil, errors.New("secret key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(secret)
	if privKey == nil {
		return nil, errors.New("invalid secret key")
	}
	return privKey.PubKey().SerializeCompressed()[1:], nil
}

// ParseSecretMaterial accepts secret material as nsec bech32 or raw hex
// and returns the 32-byte secret key.
func ParseSecretMaterial(material string) ([]byte, error) {
	material = strings.TrimSpace(material)

	if strings.HasPrefix(material, "nsec1") {
		return nips.DecodeSecretKey(material)
	}

	if len(material) == 64 {
		secret, err := hex.DecodeString(material)
		if err != nil {
			return nil, errors.New("secret material is not valid hex")
		}
		return secret, nil
	}

	return nil, errors.New("secret material must be an nsec or 64 hex characters")
}

// Handle is a transient plaintext secret key. Callers must Close it on every
// exit path; the underlying bytes are zeroed and unusable afterwards.
type Handle struct {
	secret []byte
}

// NewHandle wraps plaintext secret bytes in a Handle. Takes ownership of the slice.
func NewHandle(secret []byte) *Handle {
	return &Handle{secret: secret}
}

// Bytes returns the plaintext secret. Valid only until Close.
func (h *Handle) Bytes() []byte {
	return h.secret
}

// Close zeroes the secret material
func (h *Handle) Close() {
	for i := range h.secret {
		h.secret[i] = 0
	}
	h.secret = nil
}
