package accounts

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"nostr-accountd/internal/keys"
)

// GormStore is the SQLite/gorm implementation of Store
type GormStore struct {
	db      *gorm.DB
	crypter keys.Crypter

	// Per-pubkey mutexes so concurrent mutations of the same account
	// serialize while different accounts proceed in parallel. The active
	// pointer shares the lock of the account it points at plus lockMu.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewGormStore migrates the schema and returns a store
func NewGormStore(db *gorm.DB, crypter keys.Crypter) (*GormStore, error) {
	if err := db.AutoMigrate(&Account{}, &appState{}); err != nil {
		return nil, fmt.Errorf("migrate account schema: %w", err)
	}
	return &GormStore{
		db:      db,
		crypter: crypter,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *GormStore) lockFor(pubKey string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[pubKey]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[pubKey] = mu
	}
	return mu
}

func (s *GormStore) Create(secret []byte) (Account, error) {
	return s.insert(secret, false)
}

func (s *GormStore) Import(secret []byte) (Account, error) {
	return s.insert(secret, true)
}

func (s *GormStore) insert(secret []byte, idempotent bool) (Account, error) {
	pubKeyBytes, err := keys.DerivePublicKey(secret)
	if err != nil {
		return Account{}, fmt.Errorf("derive public key: %w", err)
	}
	pubKey := hex.EncodeToString(pubKeyBytes)

	mu := s.lockFor(pubKey)
	mu.Lock()
	defer mu.Unlock()

	var existing Account
	err = s.db.First(&existing, "pub_key = ?", pubKey).Error
	if err == nil {
		if idempotent {
			return existing, nil
		}
		return Account{}, ErrDuplicateIdentity
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, err
	}

	encrypted, err := s.crypter.Encrypt(secret)
	if err != nil {
		return Account{}, fmt.Errorf("encrypt secret: %w", err)
	}

	account := Account{
		PubKey:          pubKey,
		EncryptedSecret: encrypted,
		Onboarding:      OnboardingState{},
		Relays:          []RelayEntry{},
	}
	if err := s.db.Create(&account).Error; err != nil {
		return Account{}, err
	}

	return account, nil
}

func (s *GormStore) List() ([]Account, error) {
	var accounts []Account
	err := s.db.Order("created_at asc").Find(&accounts).Error
	return accounts, err
}

func (s *GormStore) Get(pubKey string) (Account, error) {
	var account Account
	err := s.db.First(&account, "pub_key = ?", pubKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrUnknownAccount
	}
	return account, err
}

func (s *GormStore) Remove(pubKey string) error {
	mu := s.lockFor(pubKey)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Account{}, "pub_key = ?", pubKey)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUnknownAccount
		}

		// Removing the active account clears the pointer
		return tx.Model(&appState{}).
			Where("id = 1 AND active_pub_key = ?", pubKey).
			Update("active_pub_key", "").Error
	})
}

// mutate runs fn against the locked, loaded account and saves the result
func (s *GormStore) mutate(pubKey string, fn func(*Account) error) error {
	mu := s.lockFor(pubKey)
	mu.Lock()
	defer mu.Unlock()

	account, err := s.Get(pubKey)
	if err != nil {
		return err
	}

	if err := fn(&account); err != nil {
		return err
	}

	return s.db.Save(&account).Error
}

func (s *GormStore) UpdateOnboarding(pubKey string, step string) error {
	return s.mutate(pubKey, func(a *Account) error {
		if a.Onboarding == nil {
			a.Onboarding = OnboardingState{}
		}
		a.Onboarding[step] = true
		return nil
	})
}

func (s *GormStore) SetRelayList(pubKey string, relays []RelayEntry) error {
	return s.mutate(pubKey, func(a *Account) error {
		a.Relays = DedupeRelays(relays)
		return nil
	})
}

func (s *GormStore) SetWalletConnect(pubKey string, uri string) error {
	encrypted, err := s.crypter.Encrypt([]byte(uri))
	if err != nil {
		return fmt.Errorf("encrypt wallet URI: %w", err)
	}

	return s.mutate(pubKey, func(a *Account) error {
		// New session replaces the old one wholesale; a stale balance from
		// a different wallet must not survive the swap
		a.EncryptedWalletURI = encrypted
		a.LastBalanceMsats = nil
		a.LastBalanceAt = nil
		return nil
	})
}

func (s *GormStore) ClearWalletConnect(pubKey string) error {
	return s.mutate(pubKey, func(a *Account) error {
		a.EncryptedWalletURI = nil
		a.LastBalanceMsats = nil
		a.LastBalanceAt = nil
		return nil
	})
}

func (s *GormStore) HasWalletConnect(pubKey string) (bool, error) {
	account, err := s.Get(pubKey)
	if err != nil {
		return false, err
	}
	return len(account.EncryptedWalletURI) > 0, nil
}

func (s *GormStore) WalletConnectURI(pubKey string) (string, error) {
	account, err := s.Get(pubKey)
	if err != nil {
		return "", err
	}
	if len(account.EncryptedWalletURI) == 0 {
		return "", nil
	}

	uri, err := s.crypter.Decrypt(account.EncryptedWalletURI)
	if err != nil {
		return "", fmt.Errorf("decrypt wallet URI: %w", err)
	}
	return string(uri), nil
}

func (s *GormStore) SetLastBalance(pubKey string, msats int64, at time.Time) error {
	return s.mutate(pubKey, func(a *Account) error {
		a.LastBalanceMsats = &msats
		a.LastBalanceAt = &at
		return nil
	})
}

func (s *GormStore) SecretKey(pubKey string) (*keys.Handle, error) {
	account, err := s.Get(pubKey)
	if err != nil {
		return nil, err
	}

	secret, err := s.crypter.Decrypt(account.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return keys.NewHandle(secret), nil
}

func (s *GormStore) ActiveAccount() (string, error) {
	var state appState
	err := s.db.First(&state, "id = 1").Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.ActivePubKey, nil
}

func (s *GormStore) SetActiveAccount(pubKey string) error {
	mu := s.lockFor(pubKey)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.Get(pubKey); err != nil {
		return err
	}

	state := appState{ID: 1, ActivePubKey: pubKey}
	return s.db.Save(&state).Error
}

func (s *GormStore) ClearActiveAccount(pubKey string) error {
	q := s.db.Model(&appState{}).Where("id = 1")
	if pubKey != "" {
		q = q.Where("active_pub_key = ?", pubKey)
	}
	return q.Update("active_pub_key", "").Error
}
