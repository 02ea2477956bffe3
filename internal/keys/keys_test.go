package keys

import (
	"bytes"
	"encoding/hex"
	"testing"

	"nostr-accountd/internal/nips"
)

func TestGenerateAndDerive(t *testing.T) {
	secret, err := Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(secret) != 32 {
		t.Fatalf("secret length = %d, want 32", len(secret))
	}

	pubKey, err := DerivePublicKey(secret)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if len(pubKey) != 32 {
		t.Fatalf("pubkey length = %d, want 32", len(pubKey))
	}

	// Derivation is deterministic
	again, err := DerivePublicKey(secret)
	if err != nil {
		t.Fatalf("second derive failed: %v", err)
	}
	if !bytes.Equal(pubKey, again) {
		t.Error("derivation is not deterministic")
	}
}

func TestParseSecretMaterialHex(t *testing.T) {
	secret, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseSecretMaterial(hex.EncodeToString(secret))
	if err != nil {
		t.Fatalf("parse hex failed: %v", err)
	}
	if !bytes.Equal(parsed, secret) {
		t.Error("parsed hex secret differs from original")
	}
}

func TestParseSecretMaterialNsec(t *testing.T) {
	secret, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	nsec, err := nips.EncodeSecretKey(secret)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseSecretMaterial("  " + nsec + "\n")
	if err != nil {
		t.Fatalf("parse nsec failed: %v", err)
	}
	if !bytes.Equal(parsed, secret) {
		t.Error("parsed nsec secret differs from original")
	}
}

func TestParseSecretMaterialRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg",
		"zz" + string(make([]byte, 62)),
		"deadbeef",
	} {
		if _, err := ParseSecretMaterial(input); err == nil {
			t.Errorf("expected error for input %q", input)
		}
	}
}

func TestHandleCloseZeroes(t *testing.T) {
	secret := []byte{1, 2, 3, 4}
	handle := NewHandle(secret)

	if !bytes.Equal(handle.Bytes(), []byte{1, 2, 3, 4}) {
		t.Fatal("handle does not expose the secret")
	}

	handle.Close()
	if handle.Bytes() != nil {
		t.Error("bytes accessible after close")
	}
	if !bytes.Equal(secret, []byte{0, 0, 0, 0}) {
		t.Error("underlying secret not zeroed")
	}

	// Double close is safe
	handle.Close()
}
