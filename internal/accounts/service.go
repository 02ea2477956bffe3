package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nostr-accountd/internal/keys"
	"nostr-accountd/internal/nips"
	"nostr-accountd/internal/relay"
)

// MetadataPublisher is the slice of the profile publisher the session
// manager needs for the best-effort initial publish on identity creation
type MetadataPublisher interface {
	Publish(ctx context.Context, pubKey string, fields map[string]string) (relay.PublishReport, error)
}

// Service is the session manager: it translates UI intents into store
// mutations and owns the active-account pointer.
type Service struct {
	store     Store
	publisher MetadataPublisher
}

// NewService creates a session manager. publisher may be nil; identity
// creation then skips the initial metadata publish.
func NewService(store Store, publisher MetadataPublisher) *Service {
	return &Service{store: store, publisher: publisher}
}

// CreateIdentity generates fresh key material, stores it, and makes the
// new identity active. The initial empty-profile publish is best-effort
// and never rolls back the created identity.
func (s *Service) CreateIdentity(ctx context.Context) (View, error) {
	secret, err := keys.Generate()
	if err != nil {
		return View{}, fmt.Errorf("generate key: %w", err)
	}
	defer zero(secret)

	account, err := s.store.Create(secret)
	if err != nil {
		return View{}, err
	}

	if err := s.store.SetActiveAccount(account.PubKey); err != nil {
		return View{}, err
	}

	if s.publisher != nil {
		publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		go func() {
			defer cancel()
			if _, err := s.publisher.Publish(publishCtx, account.PubKey, map[string]string{}); err != nil {
				slog.Warn("initial metadata publish failed", "pubkey", account.PubKey, "error", err)
			}
		}()
	}

	return s.view(account, account.PubKey), nil
}

// Login imports existing secret material (nsec or hex) and makes the
// identity active. Importing an already-known key is not an error.
func (s *Service) Login(secretMaterial string) (View, error) {
	secret, err := keys.ParseSecretMaterial(secretMaterial)
	if err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	defer zero(secret)

	account, err := s.store.Import(secret)
	if err != nil {
		return View{}, err
	}

	if err := s.store.SetActiveAccount(account.PubKey); err != nil {
		return View{}, err
	}

	return s.view(account, account.PubKey), nil
}

// Logout clears the active pointer if it references pubKey. The account
// and its secret material stay in the store; RemoveAccount is the
// destructive path.
func (s *Service) Logout(pubKey string) error {
	return s.store.ClearActiveAccount(pubKey)
}

// RemoveAccount permanently deletes the identity, its wallet-connect
// session, and its secret material
func (s *Service) RemoveAccount(pubKey string) error {
	return s.store.Remove(pubKey)
}

// SetActiveAccount atomically repoints the active pointer
func (s *Service) SetActiveAccount(pubKey string) error {
	return s.store.SetActiveAccount(pubKey)
}

// UpdateOnboarding marks an onboarding step complete
func (s *Service) UpdateOnboarding(pubKey string, step string) error {
	return s.store.UpdateOnboarding(pubKey, step)
}

// GetAccounts returns all stored identities annotated with is_active
func (s *Service) GetAccounts() ([]View, error) {
	accounts, err := s.store.List()
	if err != nil {
		return nil, err
	}

	active, err := s.store.ActiveAccount()
	if err != nil {
		return nil, err
	}

	views := make([]View, len(accounts))
	for i, account := range accounts {
		views[i] = s.view(account, active)
	}
	return views, nil
}

// GetAccount returns a single account view
func (s *Service) GetAccount(pubKey string) (View, error) {
	account, err := s.store.Get(pubKey)
	if err != nil {
		return View{}, err
	}
	active, err := s.store.ActiveAccount()
	if err != nil {
		return View{}, err
	}
	return s.view(account, active), nil
}

func (s *Service) view(account Account, activePubKey string) View {
	npub, err := nips.EncodePubkey(account.PubKey)
	if err != nil {
		slog.Warn("npub encode failed", "pubkey", account.PubKey, "error", err)
	}

	onboarding := account.Onboarding
	if onboarding == nil {
		onboarding = OnboardingState{}
	}
	relays := account.Relays
	if relays == nil {
		relays = []RelayEntry{}
	}

	return View{
		PubKey:           account.PubKey,
		Npub:             npub,
		IsActive:         account.PubKey == activePubKey,
		Onboarding:       onboarding,
		Relays:           relays,
		HasWalletConnect: len(account.EncryptedWalletURI) > 0,
		LastBalanceMsats: account.LastBalanceMsats,
		LastBalanceAt:    account.LastBalanceAt,
		CreatedAt:        account.CreatedAt,
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
