package nips

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestConversationKeySymmetric(t *testing.T) {
	alicePriv, alicePub := testKeyPair(t)
	bobPriv, bobPub := testKeyPair(t)

	aliceKey, err := ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("alice conversation key failed: %v", err)
	}
	bobKey, err := ConversationKey(bobPriv, alicePub)
	if err != nil {
		t.Fatalf("bob conversation key failed: %v", err)
	}

	if !bytes.Equal(aliceKey, bobKey) {
		t.Errorf("conversation keys differ:\nalice: %x\nbob:   %x", aliceKey, bobKey)
	}
	if len(aliceKey) != 32 {
		t.Errorf("conversation key length = %d, want 32", len(aliceKey))
	}
}

func TestNip44Roundtrip(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)

	convKey, err := ConversationKey(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("conversation key failed: %v", err)
	}

	for _, plaintext := range []string{
		"a",
		"hello world",
		`{"result_type":"get_balance","result":{"balance":21000}}`,
		strings.Repeat("z", 5000),
	} {
		encrypted, err := Nip44Encrypt(plaintext, convKey)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}

		decrypted, err := Nip44Decrypt(encrypted, convKey)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("roundtrip mismatch for %d-byte plaintext", len(plaintext))
		}
	}
}

func TestNip44DeterministicWithNonce(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)
	convKey, _ := ConversationKey(alicePriv, bobPub)

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}

	first, err := Nip44EncryptWithNonce("same input", convKey, nonce)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	second, err := Nip44EncryptWithNonce("same input", convKey, nonce)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if first != second {
		t.Error("same key, nonce, and plaintext produced different ciphertexts")
	}
}

func TestNip44TamperDetection(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)
	convKey, _ := ConversationKey(alicePriv, bobPub)

	encrypted, err := Nip44Encrypt("authentic message", convKey)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	// Flip a character in the middle of the base64 payload
	tampered := []byte(encrypted)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	if _, err := Nip44Decrypt(string(tampered), convKey); err == nil {
		t.Error("tampered payload decrypted without error")
	}
}

func TestNip44WrongKeyFails(t *testing.T) {
	alicePriv, _ := testKeyPair(t)
	_, bobPub := testKeyPair(t)
	evePriv, _ := testKeyPair(t)

	convKey, _ := ConversationKey(alicePriv, bobPub)
	wrongKey, _ := ConversationKey(evePriv, bobPub)

	encrypted, err := Nip44Encrypt("authentic message", convKey)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Nip44Decrypt(encrypted, wrongKey); err == nil {
		t.Error("decryption with wrong key succeeded")
	}
}
