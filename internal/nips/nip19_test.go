package nips

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestEncodePubkey(t *testing.T) {
	// Well-known reference pair
	pubkeyHex := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	expected := "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"

	npub, err := EncodePubkey(pubkeyHex)
	if err != nil {
		t.Fatalf("EncodePubkey failed: %v", err)
	}
	if npub != expected {
		t.Errorf("npub mismatch:\ngot:      %s\nexpected: %s", npub, expected)
	}
}

func TestDecodePubkey(t *testing.T) {
	npub := "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
	expected := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

	pubkeyHex, err := DecodePubkey(npub)
	if err != nil {
		t.Fatalf("DecodePubkey failed: %v", err)
	}
	if pubkeyHex != expected {
		t.Errorf("pubkey mismatch:\ngot:      %s\nexpected: %s", pubkeyHex, expected)
	}
}

func TestSecretKeyRoundtrip(t *testing.T) {
	secretHex := "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa"
	expectedNsec := "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5"

	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		t.Fatalf("bad test vector: %v", err)
	}

	nsec, err := EncodeSecretKey(secret)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if nsec != expectedNsec {
		t.Errorf("nsec mismatch:\ngot:      %s\nexpected: %s", nsec, expectedNsec)
	}

	decoded, err := DecodeSecretKey(nsec)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, secret) {
		t.Errorf("roundtrip mismatch: got %x, want %x", decoded, secret)
	}
}

func TestDecodePubkeyRejectsNsec(t *testing.T) {
	nsec := "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5"
	if _, err := DecodePubkey(nsec); err == nil {
		t.Error("expected error decoding nsec as npub")
	}
}

func TestDecodeRejectsSingleCharTypo(t *testing.T) {
	// A one-character typo must fail the checksum, not resolve to a
	// different key
	for _, valid := range []string{
		"npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg",
		"nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5",
	} {
		for _, pos := range []int{10, len(valid) - 1} {
			replacement := byte('q')
			if valid[pos] == 'q' {
				replacement = 'p'
			}
			corrupted := valid[:pos] + string(replacement) + valid[pos+1:]
			if _, _, err := Bech32Decode(corrupted); err == nil {
				t.Errorf("expected checksum error for %q", corrupted)
			}
		}
	}
}

func TestDecodePubkeyRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "npub1", "npub1qqqqqqqq", "not-bech32-at-all"} {
		if _, err := DecodePubkey(input); err == nil {
			t.Errorf("expected error for input %q", input)
		}
	}
}
