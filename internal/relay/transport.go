package relay

import (
	"context"

	"nostr-accountd/internal/nostr"
)

// FetchResult is the outcome of a multi-relay fetch
type FetchResult struct {
	Events []nostr.Event
	// Responded counts relays that produced at least one event or an EOSE
	// before the deadline. Zero means every relay was unreachable or silent.
	Responded int
}

// PublishReport aggregates a multi-relay publish fan-out
type PublishReport struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// Transport is the relay access surface the services depend on.
// *Pool-backed Fanout satisfies it; tests substitute fakes.
type Transport interface {
	// Fetch queries all relays with the filter, deduplicates by event ID,
	// and returns events newest-first (created_at desc, ID desc tie-break).
	Fetch(ctx context.Context, relays []string, filter nostr.Filter) (FetchResult, error)

	// Publish fans the signed event out to all relays, waiting for each
	// relay's acknowledgment until ctx expires.
	Publish(ctx context.Context, relays []string, event *nostr.Event) PublishReport
}
