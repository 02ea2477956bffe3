package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"nostr-accountd/internal/accounts"
	"nostr-accountd/internal/cache"
)

// ErrNoWalletConnected is returned when an account has no wallet-connect
// session. Checked before any network traffic.
var ErrNoWalletConnected = errors.New("no wallet connected")

const (
	balanceCacheTTL = time.Minute
	idleTimeout     = 10 * time.Minute
	reapInterval    = 5 * time.Minute
)

// Balance is a wallet balance snapshot
type Balance struct {
	Msats     int64     `json:"msats"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Service manages wallet-connect sessions per account: URI lifecycle,
// balance queries, and the pool of live wallet relay connections.
type Service struct {
	store         accounts.Store
	cache         cache.Backend
	walletTimeout time.Duration

	poolMu sync.Mutex
	pool   map[string]*poolEntry // account pubkey -> live client

	stopOnce sync.Once
	stop     chan struct{}
}

type poolEntry struct {
	client     *Client
	mu         sync.Mutex
	lastActive time.Time
}

func (e *poolEntry) touch() {
	e.mu.Lock()
	e.lastActive = time.Now()
	e.mu.Unlock()
}

func (e *poolEntry) idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastActive) > idleTimeout
}

// NewService wires the wallet session service and starts the idle-connection
// reaper. cacheBackend may be nil.
func NewService(store accounts.Store, cacheBackend cache.Backend, walletTimeout time.Duration) *Service {
	s := &Service{
		store:         store,
		cache:         cacheBackend,
		walletTimeout: walletTimeout,
		pool:          make(map[string]*poolEntry),
		stop:          make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Close shuts down all pooled wallet connections
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	for pubKey, entry := range s.pool {
		entry.client.Close()
		delete(s.pool, pubKey)
	}
}

// SetURI validates and stores a wallet-connect URI for the account,
// replacing any existing session. A URI that fails validation leaves the
// stored session untouched.
func (s *Service) SetURI(pubKey string, uri string) error {
	if _, err := ParseConnectionURI(uri); err != nil {
		return err
	}

	if err := s.store.SetWalletConnect(pubKey, uri); err != nil {
		return err
	}

	// The old session's connection and cached balance are now stale
	s.dropClient(pubKey)
	s.dropCachedBalance(pubKey)

	slog.Info("wallet connect session stored", "pubkey", pubKey)
	return nil
}

// RemoveURI deletes the account's wallet-connect session. Idempotent:
// removing a session that doesn't exist succeeds.
func (s *Service) RemoveURI(pubKey string) error {
	if err := s.store.ClearWalletConnect(pubKey); err != nil {
		return err
	}

	s.dropClient(pubKey)
	s.dropCachedBalance(pubKey)

	slog.Info("wallet connect session removed", "pubkey", pubKey)
	return nil
}

// HasURI reports whether the account has a wallet-connect session without
// exposing the URI itself
func (s *Service) HasURI(pubKey string) (bool, error) {
	return s.store.HasWalletConnect(pubKey)
}

// GetBalance queries the connected wallet for its balance. The snapshot is
// persisted and cached on success only; failures leave the last known
// balance intact.
func (s *Service) GetBalance(ctx context.Context, pubKey string) (Balance, error) {
	uri, err := s.store.WalletConnectURI(pubKey)
	if err != nil {
		return Balance{}, err
	}
	if uri == "" {
		return Balance{}, ErrNoWalletConnected
	}

	conn, err := ParseConnectionURI(uri)
	if err != nil {
		return Balance{}, err
	}

	client, err := s.clientFor(ctx, pubKey, conn)
	if err != nil {
		return Balance{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.walletTimeout)
	defer cancel()

	result, err := client.GetBalance(callCtx)
	if err != nil {
		return Balance{}, err
	}

	balance := Balance{Msats: result.Balance, FetchedAt: time.Now()}

	if err := s.store.SetLastBalance(pubKey, balance.Msats, balance.FetchedAt); err != nil {
		slog.Warn("balance snapshot persist failed", "pubkey", pubKey, "error", err)
	}
	s.storeCachedBalance(ctx, pubKey, balance)

	return balance, nil
}

// CachedBalance returns the most recent balance snapshot without touching
// the network: the cache first, then the persisted snapshot. The bool is
// false when no snapshot exists.
func (s *Service) CachedBalance(ctx context.Context, pubKey string) (Balance, bool, error) {
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, "nwc:balance:"+pubKey)
		if err == nil && ok {
			var balance Balance
			if err := json.Unmarshal(data, &balance); err == nil {
				return balance, true, nil
			}
		}
	}

	account, err := s.store.Get(pubKey)
	if err != nil {
		return Balance{}, false, err
	}
	if account.LastBalanceMsats == nil || account.LastBalanceAt == nil {
		return Balance{}, false, nil
	}
	return Balance{Msats: *account.LastBalanceMsats, FetchedAt: *account.LastBalanceAt}, true, nil
}

// ConnectionQR renders the stored wallet-connect URI as a QR code PNG, for
// re-linking the wallet on another device
func (s *Service) ConnectionQR(pubKey string, size int) ([]byte, error) {
	uri, err := s.store.WalletConnectURI(pubKey)
	if err != nil {
		return nil, err
	}
	if uri == "" {
		return nil, ErrNoWalletConnected
	}

	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode wallet connect QR: %w", err)
	}
	return png, nil
}

// clientFor returns a live pooled client for the account, dialing one if
// needed. The pool owns the client lifecycle.
func (s *Service) clientFor(ctx context.Context, pubKey string, conn *Connection) (*Client, error) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()

	if entry, ok := s.pool[pubKey]; ok {
		if entry.client.IsConnected() {
			entry.touch()
			return entry.client, nil
		}
		entry.client.Close()
		delete(s.pool, pubKey)
	}

	client := NewClient(conn)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	s.pool[pubKey] = &poolEntry{client: client, lastActive: time.Now()}
	return client, nil
}

func (s *Service) dropClient(pubKey string) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if entry, ok := s.pool[pubKey]; ok {
		entry.client.Close()
		delete(s.pool, pubKey)
	}
}

func (s *Service) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.poolMu.Lock()
			for pubKey, entry := range s.pool {
				if entry.idle() || !entry.client.IsConnected() {
					entry.client.Close()
					delete(s.pool, pubKey)
				}
			}
			s.poolMu.Unlock()
		}
	}
}

func (s *Service) storeCachedBalance(ctx context.Context, pubKey string, balance Balance) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(balance)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, "nwc:balance:"+pubKey, data, balanceCacheTTL); err != nil {
		slog.Debug("balance cache write failed", "error", err)
	}
}

func (s *Service) dropCachedBalance(pubKey string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(context.Background(), "nwc:balance:"+pubKey); err != nil {
		slog.Debug("balance cache delete failed", "error", err)
	}
}
