// Command accountd is the local account and wallet-connect backend for a
// Nostr desktop client. It owns key storage, the active-account pointer,
// relay-list sync, profile publishing, and the NIP-47 wallet session, and
// exposes them as a JSON command surface on localhost.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nostr-accountd/internal/accounts"
	"nostr-accountd/internal/cache"
	"nostr-accountd/internal/config"
	"nostr-accountd/internal/keys"
	"nostr-accountd/internal/nwc"
	"nostr-accountd/internal/profile"
	"nostr-accountd/internal/relay"
	"nostr-accountd/internal/relaylist"
)

// Request body size limit for command POSTs
const maxBodySize = 32 * 1024

// limitBody wraps an HTTP handler to limit request body size
func limitBody(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	encryptionKey, err := cfg.EncryptionKeyBytes()
	if err != nil {
		slog.Error("encryption key invalid", "error", err)
		os.Exit(1)
	}
	crypter, err := keys.NewAESCrypter(encryptionKey)
	if err != nil {
		slog.Error("crypter init failed", "error", err)
		os.Exit(1)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		slog.Error("database open failed", "dsn", cfg.DatabaseDSN, "error", err)
		os.Exit(1)
	}

	store, err := accounts.NewGormStore(db, crypter)
	if err != nil {
		slog.Error("store init failed", "error", err)
		os.Exit(1)
	}

	var cacheBackend cache.Backend
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, "accountd:")
		if err != nil {
			slog.Error("redis cache init failed", "error", err)
			os.Exit(1)
		}
		cacheBackend = redisCache
		slog.Info("using redis cache")
	} else {
		cacheBackend = cache.NewMemoryCache()
	}

	pool := relay.NewPool()
	defer pool.Close()
	transport := relay.NewFanout(pool)

	profileSvc := profile.NewPublisher(store, transport, cfg.BootstrapRelays, cfg.PublishTimeout)
	accountsSvc := accounts.NewService(store, profileSvc)
	relaysSvc := relaylist.NewSynchronizer(store, transport, cacheBackend, cfg.BootstrapRelays, cfg.FetchTimeout)
	walletSvc := nwc.NewService(store, cacheBackend, cfg.WalletTimeout)
	defer walletSvc.Close()

	mux := http.NewServeMux()
	server := NewServer(accountsSvc, relaysSvc, profileSvc, walletSvc)
	server.Routes(mux)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("accountd listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}
