package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"nostr-accountd/internal/nostr"
)

// Fanout implements Transport on top of a connection Pool
type Fanout struct {
	pool *Pool
}

// NewFanout wraps a pool in the Transport interface
func NewFanout(pool *Pool) *Fanout {
	return &Fanout{pool: pool}
}

// Fetch queries all relays concurrently, deduplicates by event ID, and
// returns events sorted newest-first with ID tie-break.
func (f *Fanout) Fetch(ctx context.Context, relays []string, filter nostr.Filter) (FetchResult, error) {
	var wg sync.WaitGroup
	eventChan := make(chan nostr.Event, 256)
	respondedChan := make(chan string, len(relays))

	for _, relayURL := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			f.fetchOne(ctx, relayURL, filter, eventChan, respondedChan)
		}(relayURL)
	}

	go func() {
		wg.Wait()
		close(eventChan)
		close(respondedChan)
	}()

	seenIDs := make(map[string]bool)
	events := []nostr.Event{}

collectLoop:
	for {
		select {
		case evt, ok := <-eventChan:
			if !ok {
				break collectLoop
			}
			if !seenIDs[evt.ID] {
				seenIDs[evt.ID] = true
				events = append(events, evt)
			}
		case <-ctx.Done():
			slog.Debug("fetch deadline reached", "events", len(events))
			break collectLoop
		}
	}

	responded := make(map[string]bool)
drainLoop:
	for {
		select {
		case relayURL, ok := <-respondedChan:
			if !ok {
				break drainLoop
			}
			responded[relayURL] = true
		default:
			break drainLoop
		}
	}

	// Newest first; identical timestamps break toward the larger event ID
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID > events[j].ID
	})

	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}

	return FetchResult{Events: events, Responded: len(responded)}, nil
}

func (f *Fanout) fetchOne(ctx context.Context, relayURL string, filter nostr.Filter, eventChan chan<- nostr.Event, respondedChan chan<- string) {
	subID := "sub-" + uuid.NewString()[:8]

	sub, err := f.pool.Subscribe(ctx, relayURL, subID, filter)
	if err != nil {
		slog.Debug("fetch: subscribe failed", "relay", relayURL, "error", err)
		return
	}
	defer f.pool.Unsubscribe(relayURL, sub)

	got := false
	for {
		select {
		case evt := <-sub.EventChan:
			if !got {
				got = true
				respondedChan <- relayURL
			}
			select {
			case eventChan <- evt:
			case <-ctx.Done():
				return
			}
		case <-sub.EOSEChan:
			if !got {
				respondedChan <- relayURL
			}
			return
		case <-sub.Done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Publish fans the event out to all relays concurrently and aggregates
// per-relay success into a PublishReport. One bounded attempt per relay.
func (f *Fanout) Publish(ctx context.Context, relays []string, event *nostr.Event) PublishReport {
	var mu sync.Mutex
	var wg sync.WaitGroup
	report := PublishReport{Succeeded: []string{}, Failed: []string{}}

	for _, relayURL := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()

			ack, err := f.pool.Publish(ctx, relayURL, event)
			ok := err == nil && ack.Success
			if err != nil {
				slog.Warn("publish failed", "relay", relayURL, "error", err)
			} else if !ack.Success {
				slog.Warn("relay rejected event", "relay", relayURL, "reason", ack.Reason)
			}

			mu.Lock()
			if ok {
				report.Succeeded = append(report.Succeeded, relayURL)
			} else {
				report.Failed = append(report.Failed, relayURL)
			}
			mu.Unlock()
		}(relayURL)
	}

	wg.Wait()

	sort.Strings(report.Succeeded)
	sort.Strings(report.Failed)
	return report
}
