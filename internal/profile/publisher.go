// Package profile builds, signs, and publishes kind 0 profile-metadata
// events with multi-relay fan-out and partial-success accounting.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nostr-accountd/internal/accounts"
	"nostr-accountd/internal/nostr"
	"nostr-accountd/internal/relay"
)

// ErrNoRelayAccepted is returned when every target relay rejected the
// event or timed out
var ErrNoRelayAccepted = errors.New("no relay accepted the event")

// Publisher signs and publishes profile metadata for stored accounts
type Publisher struct {
	store           accounts.Store
	transport       relay.Transport
	bootstrapRelays []string
	publishTimeout  time.Duration
}

// NewPublisher wires a metadata publisher
func NewPublisher(store accounts.Store, transport relay.Transport, bootstrapRelays []string, publishTimeout time.Duration) *Publisher {
	return &Publisher{
		store:           store,
		transport:       transport,
		bootstrapRelays: bootstrapRelays,
		publishTimeout:  publishTimeout,
	}
}

// Publish builds a kind 0 event from the metadata fields, signs it with
// the account's key, and fans it out to the account's write relays.
// Succeeds if at least one relay acknowledges; the report lists the rest
// as failed. One bounded attempt per relay per call.
func (p *Publisher) Publish(ctx context.Context, pubKey string, fields map[string]string) (relay.PublishReport, error) {
	account, err := p.store.Get(pubKey)
	if err != nil {
		return relay.PublishReport{}, err
	}

	targets := accounts.WriteRelayURLs(account.Relays)
	if len(targets) == 0 {
		targets = p.bootstrapRelays
	}

	if fields == nil {
		fields = map[string]string{}
	}
	content, err := json.Marshal(fields)
	if err != nil {
		return relay.PublishReport{}, fmt.Errorf("marshal metadata: %w", err)
	}

	event := &nostr.Event{
		PubKey:    pubKey,
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindProfileMetadata,
		Tags:      [][]string{},
		Content:   string(content),
	}

	// Secret stays decrypted only for the signing call
	handle, err := p.store.SecretKey(pubKey)
	if err != nil {
		return relay.PublishReport{}, err
	}
	err = event.Sign(handle.Bytes())
	handle.Close()
	if err != nil {
		return relay.PublishReport{}, err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	report := p.transport.Publish(publishCtx, targets, event)

	if len(report.Succeeded) == 0 {
		return report, ErrNoRelayAccepted
	}

	if len(report.Failed) > 0 {
		slog.Warn("metadata publish partial", "pubkey", pubKey,
			"succeeded", len(report.Succeeded), "failed", len(report.Failed))
	}

	if err := p.store.UpdateOnboarding(pubKey, accounts.StepProfilePublished); err != nil {
		slog.Warn("onboarding update failed", "pubkey", pubKey, "error", err)
	}

	return report, nil
}
