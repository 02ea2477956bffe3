// Package nwc implements a NIP-47 Nostr Wallet Connect client: connection
// URI handling, the request/response RPC over a wallet relay, and the
// per-account wallet session service.
package nwc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nostr-accountd/internal/keys"
	"nostr-accountd/internal/nips"
)

// ErrMalformedURI is returned when a connection URI fails validation.
// The stored session is never touched on this path.
var ErrMalformedURI = errors.New("malformed wallet connect URI")

const uriScheme = "nostr+walletconnect://"

// Connection holds the parameters of a wallet-connect session, extracted
// from the URI and pre-computed once at parse time
type Connection struct {
	WalletPubKey    []byte // wallet service public key (32 bytes)
	Relay           string // relay both sides talk through
	Secret          []byte // client secret key from the URI (32 bytes)
	ClientPubKey    []byte // derived from Secret
	Nip04SharedKey  []byte // pre-computed shared secret (NIP-04)
	ConversationKey []byte // pre-computed conversation key (NIP-44)
}

// WalletPubKeyHex returns the wallet's public key as hex
func (c *Connection) WalletPubKeyHex() string {
	return hex.EncodeToString(c.WalletPubKey)
}

// ClientPubKeyHex returns the client's public key as hex
func (c *Connection) ClientPubKeyHex() string {
	return hex.EncodeToString(c.ClientPubKey)
}

// ParseConnectionURI parses and validates a wallet-connect URI.
// Format: nostr+walletconnect://<wallet-pubkey>?relay=<wss://...>&secret=<hex>
func ParseConnectionURI(raw string) (*Connection, error) {
	if !strings.HasPrefix(raw, uriScheme) {
		return nil, fmt.Errorf("%w: scheme must be nostr+walletconnect://", ErrMalformedURI)
	}

	// url.Parse rejects the + in the scheme, so swap it out first
	u, err := url.Parse("https://" + strings.TrimPrefix(raw, uriScheme))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}

	walletPubKeyHex := u.Host
	if len(walletPubKeyHex) != 64 {
		return nil, fmt.Errorf("%w: wallet pubkey must be 64 hex characters", ErrMalformedURI)
	}
	walletPubKey, err := hex.DecodeString(walletPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet pubkey is not hex", ErrMalformedURI)
	}

	relay := u.Query().Get("relay")
	if relay == "" {
		return nil, fmt.Errorf("%w: missing relay parameter", ErrMalformedURI)
	}
	if !strings.HasPrefix(relay, "wss://") && !strings.HasPrefix(relay, "ws://") {
		return nil, fmt.Errorf("%w: relay must be a ws:// or wss:// URL", ErrMalformedURI)
	}

	secretHex := u.Query().Get("secret")
	if secretHex == "" {
		return nil, fmt.Errorf("%w: missing secret parameter", ErrMalformedURI)
	}
	if len(secretHex) != 64 {
		return nil, fmt.Errorf("%w: secret must be 64 hex characters", ErrMalformedURI)
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not hex", ErrMalformedURI)
	}

	clientPubKey, err := keys.DerivePublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}

	nip04SharedKey, err := nips.Nip04SharedSecret(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}

	conversationKey, err := nips.ConversationKey(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}

	return &Connection{
		WalletPubKey:    walletPubKey,
		Relay:           relay,
		Secret:          secret,
		ClientPubKey:    clientPubKey,
		Nip04SharedKey:  nip04SharedKey,
		ConversationKey: conversationKey,
	}, nil
}
