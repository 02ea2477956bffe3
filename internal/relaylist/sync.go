// Package relaylist synchronizes an account's published NIP-65 relay list
// (kind 10002) with the locally stored one.
package relaylist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"nostr-accountd/internal/accounts"
	"nostr-accountd/internal/cache"
	"nostr-accountd/internal/nostr"
	"nostr-accountd/internal/relay"
)

// ErrRelayUnreachable is returned when no relay answered the fetch within
// the deadline. The stored list stays untouched.
var ErrRelayUnreachable = errors.New("no relay reachable")

const cacheTTL = 30 * time.Second

// Synchronizer fetches, merges, and republishes relay lists
type Synchronizer struct {
	store           accounts.Store
	transport       relay.Transport
	cache           cache.Backend
	bootstrapRelays []string
	fetchTimeout    time.Duration
}

// NewSynchronizer wires a synchronizer. cacheBackend may be nil to disable
// the short-lived fetch cache.
func NewSynchronizer(store accounts.Store, transport relay.Transport, cacheBackend cache.Backend, bootstrapRelays []string, fetchTimeout time.Duration) *Synchronizer {
	return &Synchronizer{
		store:           store,
		transport:       transport,
		cache:           cacheBackend,
		bootstrapRelays: bootstrapRelays,
		fetchTimeout:    fetchTimeout,
	}
}

// FetchRelaysList queries the account's known relays (or the bootstrap set)
// for its most recent relay-list event. The newest event wins outright;
// identical timestamps break toward the lexicographically larger event ID.
// The winning list is stored and returned.
func (s *Synchronizer) FetchRelaysList(ctx context.Context, pubKey string) ([]accounts.RelayEntry, error) {
	account, err := s.store.Get(pubKey)
	if err != nil {
		return nil, err
	}

	if entries, ok := s.cached(ctx, pubKey); ok {
		slog.Debug("relay list cache hit", "pubkey", pubKey)
		return entries, nil
	}

	queryRelays := accounts.RelayURLs(account.Relays)
	if len(queryRelays) == 0 {
		queryRelays = s.bootstrapRelays
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	result, err := s.transport.Fetch(fetchCtx, queryRelays, nostr.Filter{
		Authors: []string{pubKey},
		Kinds:   []int{nostr.KindRelayList},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}

	if result.Responded == 0 {
		return nil, ErrRelayUnreachable
	}

	if len(result.Events) == 0 {
		// Relays answered but none carry a relay list for this key; the
		// stored list is the best we have
		slog.Debug("no relay list event found", "pubkey", pubKey)
		return account.Relays, nil
	}

	winner := result.Events[0]
	entries := ParseRelayTags(&winner)

	if err := s.store.SetRelayList(pubKey, entries); err != nil {
		return nil, err
	}

	s.storeCache(ctx, pubKey, entries)

	slog.Debug("relay list synced", "pubkey", pubKey, "relays", len(entries), "event_created_at", winner.CreatedAt)
	return entries, nil
}

// PublishRelayList signs the stored relay list as a kind 10002 event and
// fans it out to the account's write relays. Best-effort: the report says
// which relays took it.
func (s *Synchronizer) PublishRelayList(ctx context.Context, pubKey string) (relay.PublishReport, error) {
	account, err := s.store.Get(pubKey)
	if err != nil {
		return relay.PublishReport{}, err
	}

	targets := accounts.WriteRelayURLs(account.Relays)
	if len(targets) == 0 {
		targets = s.bootstrapRelays
	}

	event := &nostr.Event{
		PubKey:    pubKey,
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindRelayList,
		Tags:      BuildRelayTags(account.Relays),
		Content:   "",
	}

	handle, err := s.store.SecretKey(pubKey)
	if err != nil {
		return relay.PublishReport{}, err
	}
	err = event.Sign(handle.Bytes())
	handle.Close()
	if err != nil {
		return relay.PublishReport{}, err
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	return s.transport.Publish(publishCtx, targets, event), nil
}

// ParseRelayTags extracts relay entries from a kind 10002 event's r tags.
// A missing marker means both read and write.
func ParseRelayTags(event *nostr.Event) []accounts.RelayEntry {
	var entries []accounts.RelayEntry
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}

		entry := accounts.RelayEntry{URL: tag[1]}
		marker := ""
		if len(tag) >= 3 {
			marker = tag[2]
		}

		switch marker {
		case "read":
			entry.Read = true
		case "write":
			entry.Write = true
		default:
			entry.Read = true
			entry.Write = true
		}

		entries = append(entries, entry)
	}
	return accounts.DedupeRelays(entries)
}

// BuildRelayTags renders relay entries back into r tags
func BuildRelayTags(relays []accounts.RelayEntry) [][]string {
	tags := [][]string{}
	for _, r := range relays {
		switch {
		case r.Read && r.Write:
			tags = append(tags, []string{"r", r.URL})
		case r.Read:
			tags = append(tags, []string{"r", r.URL, "read"})
		case r.Write:
			tags = append(tags, []string{"r", r.URL, "write"})
		}
	}
	return tags
}

func (s *Synchronizer) cached(ctx context.Context, pubKey string) ([]accounts.RelayEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, "relaylist:"+pubKey)
	if err != nil || !ok {
		return nil, false
	}
	var entries []accounts.RelayEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (s *Synchronizer) storeCache(ctx context.Context, pubKey string, entries []accounts.RelayEntry) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, "relaylist:"+pubKey, data, cacheTTL); err != nil {
		slog.Debug("relay list cache write failed", "error", err)
	}
}
