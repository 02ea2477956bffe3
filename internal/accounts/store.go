package accounts

import (
	"time"

	"nostr-accountd/internal/keys"
)

// Store manages persisted account records and the active-account pointer.
// Mutations touching the same public key serialize; different keys never
// block each other.
type Store interface {
	// Create inserts a new identity from raw secret material.
	// Fails with ErrDuplicateIdentity if the derived public key exists.
	Create(secret []byte) (Account, error)

	// Import is Create for pre-existing keys: re-importing an identical
	// key returns the stored account unchanged instead of failing.
	Import(secret []byte) (Account, error)

	// List returns all accounts ordered by creation time
	List() ([]Account, error)

	// Get returns the account for the public key or ErrUnknownAccount
	Get(pubKey string) (Account, error)

	// Remove deletes the account and its wallet-connect session.
	// Clears the active pointer if it referenced this account.
	Remove(pubKey string) error

	// UpdateOnboarding marks a step complete. No-op if already set.
	UpdateOnboarding(pubKey string, step string) error

	// SetRelayList fully replaces the stored relay list (deduplicated by URL)
	SetRelayList(pubKey string, relays []RelayEntry) error

	// SetWalletConnect stores the connection URI, replacing any previous
	// session and discarding its cached balance.
	SetWalletConnect(pubKey string, uri string) error

	// ClearWalletConnect removes the session. Idempotent.
	ClearWalletConnect(pubKey string) error

	// HasWalletConnect reports whether a session is configured
	HasWalletConnect(pubKey string) (bool, error)

	// WalletConnectURI returns the decrypted connection URI, or "" if none
	WalletConnectURI(pubKey string) (string, error)

	// SetLastBalance records a successfully fetched balance snapshot
	SetLastBalance(pubKey string, msats int64, at time.Time) error

	// SecretKey decrypts the account's secret into a short-lived handle.
	// The caller must Close it on every exit path.
	SecretKey(pubKey string) (*keys.Handle, error)

	// ActiveAccount returns the active public key, or "" if none
	ActiveAccount() (string, error)

	// SetActiveAccount points the active pointer at an existing account
	SetActiveAccount(pubKey string) error

	// ClearActiveAccount clears the pointer if it matches pubKey, or
	// unconditionally when pubKey is empty
	ClearActiveAccount(pubKey string) error
}
