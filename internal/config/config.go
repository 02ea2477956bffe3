// Package config loads accountd configuration from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds all runtime settings for the account core
type Config struct {
	// Address the UI-facing command surface listens on
	ListenAddr string `env:"ACCOUNTD_LISTEN" envDefault:"127.0.0.1:8910"`

	// SQLite database path for account records
	DatabaseDSN string `env:"ACCOUNTD_DB" envDefault:"accountd.db"`

	// Hex-encoded 32-byte key for encrypting stored secret keys
	EncryptionKey string `env:"ACCOUNTD_ENCRYPTION_KEY,required"`

	// Optional Redis cache; empty means in-memory caching
	RedisURL string `env:"ACCOUNTD_REDIS_URL"`

	// Relays used when an account has no relay list yet
	BootstrapRelays []string `env:"ACCOUNTD_BOOTSTRAP_RELAYS" envSeparator:"," envDefault:"wss://purplepag.es,wss://relay.nostr.band,wss://relay.damus.io"`

	FetchTimeout   time.Duration `env:"ACCOUNTD_FETCH_TIMEOUT" envDefault:"5s"`
	PublishTimeout time.Duration `env:"ACCOUNTD_PUBLISH_TIMEOUT" envDefault:"10s"`
	WalletTimeout  time.Duration `env:"ACCOUNTD_WALLET_TIMEOUT" envDefault:"15s"`
}

// Load parses configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.EncryptionKeyBytes(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EncryptionKeyBytes decodes and validates the at-rest encryption key
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, errors.New("ACCOUNTD_ENCRYPTION_KEY is not valid hex")
	}
	if len(key) != 32 {
		return nil, errors.New("ACCOUNTD_ENCRYPTION_KEY must be 32 bytes of hex")
	}
	return key, nil
}
