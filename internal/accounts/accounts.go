// Package accounts implements the key & account store and the session
// manager facade: locally held identities, the active-account pointer,
// onboarding state, relay lists, and wallet-connect credentials at rest.
package accounts

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateIdentity is returned when creating an identity whose
	// public key already exists in the store.
	ErrDuplicateIdentity = errors.New("identity already exists")

	// ErrUnknownAccount is returned when an operation references a public
	// key not present in the store.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrInvalidSecret is returned when login material is neither a valid
	// nsec nor 64 hex characters.
	ErrInvalidSecret = errors.New("invalid secret material")
)

// Onboarding step flags. Steps only ever get added, never removed.
const (
	StepProfilePublished = "profile_published"
	StepRelaysConfigured = "relays_configured"
	StepWalletLinked     = "wallet_linked"
	StepBackupConfirmed  = "backup_confirmed"
)

// RelayEntry is one relay in an account's NIP-65 relay list
type RelayEntry struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// OnboardingState is the set of completed onboarding steps
type OnboardingState map[string]bool

// Account is the persisted record for one identity. EncryptedSecret and
// EncryptedWalletURI are AES-GCM sealed; plaintext never leaves the store
// except through short-lived key handles.
type Account struct {
	PubKey             string `gorm:"primaryKey;column:pub_key"`
	EncryptedSecret    []byte
	Onboarding         OnboardingState `gorm:"serializer:json"`
	Relays             []RelayEntry    `gorm:"serializer:json"`
	EncryptedWalletURI []byte
	LastBalanceMsats   *int64
	LastBalanceAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Account) TableName() string {
	return "accounts"
}

// appState is the single-row table holding the active-account pointer
type appState struct {
	ID           uint `gorm:"primaryKey"`
	ActivePubKey string
	UpdatedAt    time.Time
}

func (appState) TableName() string {
	return "app_state"
}

// View is the UI-facing shape of an account. No secret material, ever.
type View struct {
	PubKey           string          `json:"pubkey"`
	Npub             string          `json:"npub"`
	IsActive         bool            `json:"is_active"`
	Onboarding       OnboardingState `json:"onboarding"`
	Relays           []RelayEntry    `json:"relays"`
	HasWalletConnect bool            `json:"has_wallet_connect"`
	LastBalanceMsats *int64          `json:"last_balance_msats,omitempty"`
	LastBalanceAt    *time.Time      `json:"last_balance_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// WriteRelayURLs returns the URLs of relays marked for writing
func WriteRelayURLs(relays []RelayEntry) []string {
	var urls []string
	for _, r := range relays {
		if r.Write {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

// RelayURLs returns every relay URL in the list
func RelayURLs(relays []RelayEntry) []string {
	urls := make([]string, 0, len(relays))
	for _, r := range relays {
		urls = append(urls, r.URL)
	}
	return urls
}

// DedupeRelays removes duplicate entries by URL, keeping first occurrence order
func DedupeRelays(relays []RelayEntry) []RelayEntry {
	seen := make(map[string]bool, len(relays))
	out := make([]RelayEntry, 0, len(relays))
	for _, r := range relays {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
	}
	return out
}
