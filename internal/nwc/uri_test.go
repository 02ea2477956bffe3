package nwc

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-accountd/internal/keys"
	"nostr-accountd/internal/nips"
)

func testWalletURI(t *testing.T) (string, []byte, []byte) {
	t.Helper()

	walletSecret, err := keys.Generate()
	require.NoError(t, err)
	walletPub, err := keys.DerivePublicKey(walletSecret)
	require.NoError(t, err)

	clientSecret, err := keys.Generate()
	require.NoError(t, err)

	uri := "nostr+walletconnect://" + hex.EncodeToString(walletPub) +
		"?relay=wss://wallet-relay.example&secret=" + hex.EncodeToString(clientSecret)
	return uri, walletSecret, clientSecret
}

func TestParseConnectionURI(t *testing.T) {
	uri, walletSecret, clientSecret := testWalletURI(t)

	conn, err := ParseConnectionURI(uri)
	require.NoError(t, err)

	assert.Equal(t, "wss://wallet-relay.example", conn.Relay)
	assert.Equal(t, clientSecret, conn.Secret)
	assert.Len(t, conn.WalletPubKey, 32)
	assert.Len(t, conn.ClientPubKey, 32)
	assert.Len(t, conn.Nip04SharedKey, 32)
	assert.Len(t, conn.ConversationKey, 32)

	// The pre-computed keys agree with what the wallet side derives
	clientPub, err := keys.DerivePublicKey(clientSecret)
	require.NoError(t, err)
	walletShared, err := nips.Nip04SharedSecret(walletSecret, clientPub)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(conn.Nip04SharedKey, walletShared), "NIP-04 shared keys disagree")

	walletConv, err := nips.ConversationKey(walletSecret, clientPub)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(conn.ConversationKey, walletConv), "conversation keys disagree")
}

func TestParseConnectionURIRejectsMalformed(t *testing.T) {
	validURI, _, _ := testWalletURI(t)
	conn, err := ParseConnectionURI(validURI)
	require.NoError(t, err)
	walletPubHex := conn.WalletPubKeyHex()
	secretHex := hex.EncodeToString(conn.Secret)

	cases := map[string]string{
		"empty":          "",
		"wrong scheme":   "walletconnect://" + walletPubHex + "?relay=wss://r&secret=" + secretHex,
		"short pubkey":   "nostr+walletconnect://abcd?relay=wss://r&secret=" + secretHex,
		"non-hex pubkey": "nostr+walletconnect://" + "zz" + walletPubHex[2:] + "?relay=wss://r&secret=" + secretHex,
		"missing relay":  "nostr+walletconnect://" + walletPubHex + "?secret=" + secretHex,
		"http relay":     "nostr+walletconnect://" + walletPubHex + "?relay=https://r&secret=" + secretHex,
		"missing secret": "nostr+walletconnect://" + walletPubHex + "?relay=wss://r",
		"short secret":   "nostr+walletconnect://" + walletPubHex + "?relay=wss://r&secret=abcd",
		"non-hex secret": "nostr+walletconnect://" + walletPubHex + "?relay=wss://r&secret=zz" + secretHex[2:],
	}

	for name, uri := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConnectionURI(uri)
			assert.ErrorIs(t, err, ErrMalformedURI)
		})
	}
}
