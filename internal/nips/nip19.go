package nips

import (
	"encoding/hex"
	"errors"
	"strings"
)

// NIP-19 bare bech32 entities for keys. The account core only needs npub
// (public identity shown to the UI) and nsec (secret material accepted on login).

// EncodePubkey encodes a hex pubkey to npub format
func EncodePubkey(hexPubkey string) (string, error) {
	pubkeyBytes, err := hex.DecodeString(hexPubkey)
	if err != nil {
		return "", err
	}
	if len(pubkeyBytes) != 32 {
		return "", errors.New("invalid pubkey length")
	}

	data, err := Bech32ConvertBits(pubkeyBytes, 8, 5, true)
	if err != nil {
		return "", err
	}

	return Bech32Encode("npub", data)
}

// DecodePubkey decodes an npub1... string to a hex pubkey
func DecodePubkey(npub string) (string, error) {
	if !strings.HasPrefix(npub, "npub1") {
		return "", errors.New("not an npub")
	}

	hrp, data, err := Bech32Decode(npub)
	if err != nil {
		return "", err
	}
	if hrp != "npub" {
		return "", errors.New("invalid hrp for npub")
	}

	pubkeyBytes, err := Bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	if len(pubkeyBytes) != 32 {
		return "", errors.New("invalid npub length")
	}

	return hex.EncodeToString(pubkeyBytes), nil
}

// EncodeSecretKey encodes a 32-byte secret key to nsec format
func EncodeSecretKey(secret []byte) (string, error) {
	if len(secret) != 32 {
		return "", errors.New("invalid secret key length")
	}

	data, err := Bech32ConvertBits(secret, 8, 5, true)
	if err != nil {
		return "", err
	}

	return Bech32Encode("nsec", data)
}

// DecodeSecretKey decodes an nsec1... string to raw 32-byte secret material
func DecodeSecretKey(nsec string) ([]byte, error) {
	if !strings.HasPrefix(nsec, "nsec1") {
		return nil, errors.New("not an nsec")
	}

	hrp, data, err := Bech32Decode(nsec)
	if err != nil {
		return nil, err
	}
	if hrp != "nsec" {
		return nil, errors.New("invalid hrp for nsec")
	}

	secret, err := Bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(secret) != 32 {
		return nil, errors.New("invalid nsec length")
	}

	return secret, nil
}
