// Package relay implements the transport adapter: pooled websocket
// connections to relays with subscription routing, publish acknowledgment
// correlation, and multi-relay fan-out helpers.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"nostr-accountd/internal/nostr"
)

// ValidateURL checks that a relay URL is a plausible websocket endpoint
func ValidateURL(relayURL string) error {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return errors.New("invalid relay URL")
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return errors.New("relay URL must use ws:// or wss://")
	}
	if parsed.Hostname() == "" {
		return errors.New("relay URL missing host")
	}
	return nil
}

// Subscription represents an active subscription on a relay connection
type Subscription struct {
	ID        string
	EventChan chan nostr.Event
	EOSEChan  chan bool
	Done      chan struct{}
	closeOnce sync.Once
}

// Close safely closes the Done channel exactly once
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// PublishAck is a relay's OK response to a published event
type PublishAck struct {
	EventID string
	Success bool
	Reason  string
}

// Conn manages a single websocket connection with multiple subscriptions
// and pending publish acknowledgments
type Conn struct {
	conn          *websocket.Conn
	relayURL      string
	mu            sync.Mutex
	writeMu       sync.Mutex
	subscriptions map[string]*Subscription
	pendingAcks   map[string]chan PublishAck // event ID -> ack waiter
	closed        bool
	lastActivity  time.Time
}

// Pool manages connections to multiple relays
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*Conn // relayURL -> connection

	done     chan struct{}
	doneOnce sync.Once
}

// NewPool creates a connection pool and starts its idle-connection reaper
func NewPool() *Pool {
	pool := &Pool{
		connections: make(map[string]*Conn),
		done:        make(chan struct{}),
	}
	go pool.cleanupLoop()
	return pool
}

// getOrCreateConn gets an existing connection or dials a new one.
// Dial failures are retried with exponential backoff while ctx allows.
func (p *Pool) getOrCreateConn(ctx context.Context, relayURL string) (*Conn, error) {
	if err := ValidateURL(relayURL); err != nil {
		return nil, err
	}

	p.mu.RLock()
	rc := p.connections[relayURL]
	p.mu.RUnlock()

	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	rc = p.connections[relayURL]
	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var conn *websocket.Conn
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("pool: connected", "relay", relayURL)

	rc = &Conn{
		conn:          conn,
		relayURL:      relayURL,
		subscriptions: make(map[string]*Subscription),
		pendingAcks:   make(map[string]chan PublishAck),
		lastActivity:  time.Now(),
	}

	p.connections[relayURL] = rc

	go rc.readLoop()

	return rc, nil
}

// Subscribe creates a new subscription on the relay
func (p *Pool) Subscribe(ctx context.Context, relayURL string, subID string, filter nostr.Filter) (*Subscription, error) {
	rc, err := p.getOrCreateConn(ctx, relayURL)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:        subID,
		EventChan: make(chan nostr.Event, 100),
		EOSEChan:  make(chan bool, 1),
		Done:      make(chan struct{}),
	}

	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return nil, errors.New("connection closed")
	}
	rc.subscriptions[subID] = sub
	rc.mu.Unlock()

	req := []interface{}{"REQ", subID, filter.ToWire()}
	if err := rc.writeJSON(req); err != nil {
		rc.mu.Lock()
		delete(rc.subscriptions, subID)
		rc.mu.Unlock()
		rc.markClosed()
		return nil, err
	}

	rc.touch()
	return sub, nil
}

// Unsubscribe closes a subscription
func (p *Pool) Unsubscribe(relayURL string, sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	rc := p.connections[relayURL]
	p.mu.RUnlock()

	if rc == nil {
		sub.Close()
		return
	}

	rc.mu.Lock()
	_, exists := rc.subscriptions[sub.ID]
	shouldSendClose := !rc.closed && exists
	if exists {
		delete(rc.subscriptions, sub.ID)
	}
	rc.mu.Unlock()

	// Best effort, connection may already be gone
	if shouldSendClose {
		rc.writeJSON([]interface{}{"CLOSE", sub.ID})
	}

	sub.Close()
}

// Publish sends a signed event to one relay and waits for its OK response
// until ctx expires.
func (p *Pool) Publish(ctx context.Context, relayURL string, event *nostr.Event) (PublishAck, error) {
	rc, err := p.getOrCreateConn(ctx, relayURL)
	if err != nil {
		return PublishAck{}, err
	}

	ackCh := make(chan PublishAck, 1)
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return PublishAck{}, errors.New("connection closed")
	}
	rc.pendingAcks[event.ID] = ackCh
	rc.mu.Unlock()

	defer func() {
		rc.mu.Lock()
		delete(rc.pendingAcks, event.ID)
		rc.mu.Unlock()
	}()

	if err := rc.writeJSON([]interface{}{"EVENT", event}); err != nil {
		rc.markClosed()
		return PublishAck{}, err
	}

	rc.touch()

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		return PublishAck{}, ctx.Err()
	}
}

func (rc *Conn) writeJSON(v interface{}) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	rc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	defer rc.conn.SetWriteDeadline(time.Time{})

	return rc.conn.WriteJSON(v)
}

func (rc *Conn) touch() {
	rc.mu.Lock()
	rc.lastActivity = time.Now()
	rc.mu.Unlock()
}

func (rc *Conn) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

// readLoop continuously reads from the connection and routes messages
func (rc *Conn) readLoop() {
	defer rc.markClosed()

	for {
		var msg []interface{}
		err := rc.conn.ReadJSON(&msg)
		if err != nil {
			if !rc.isClosed() {
				slog.Debug("pool: read error", "relay", rc.relayURL, "error", err)
			}
			return
		}

		rc.touch()

		if len(msg) < 2 {
			continue
		}

		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}

			evt, ok := nostr.ParseEvent(msg[2])
			if !ok {
				continue
			}

			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			rc.mu.Unlock()

			if sub != nil {
				select {
				case sub.EventChan <- evt:
				case <-sub.Done:
				default:
					// Channel full, drop event
				}
			}

		case "EOSE":
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}

			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			rc.mu.Unlock()

			if sub != nil {
				select {
				case sub.EOSEChan <- true:
				default:
				}
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			success, _ := msg[2].(bool)
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}

			rc.mu.Lock()
			ackCh := rc.pendingAcks[eventID]
			if ackCh != nil {
				delete(rc.pendingAcks, eventID)
			}
			rc.mu.Unlock()

			if ackCh != nil {
				ackCh <- PublishAck{EventID: eventID, Success: success, Reason: reason}
			}

		case "CLOSED":
			subID, _ := msg[1].(string)
			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			if sub != nil {
				delete(rc.subscriptions, subID)
			}
			rc.mu.Unlock()
			if sub != nil {
				sub.Close()
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Debug("pool: NOTICE", "relay", rc.relayURL, "notice", notice)
		}
	}
}

// markClosed marks the connection as closed and cleans up
func (rc *Conn) markClosed() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}

	rc.closed = true
	rc.conn.Close()

	for _, sub := range rc.subscriptions {
		sub.Close()
	}
	rc.subscriptions = make(map[string]*Subscription)

	for _, ackCh := range rc.pendingAcks {
		close(ackCh)
	}
	rc.pendingAcks = make(map[string]chan PublishAck)
}

// cleanupLoop periodically removes stale connections until Close
func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

func (p *Pool) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for url, rc := range p.connections {
		rc.mu.Lock()
		idle := len(rc.subscriptions) == 0 && now.Sub(rc.lastActivity) > 2*time.Minute
		closed := rc.closed
		rc.mu.Unlock()

		if closed || idle {
			if !closed {
				slog.Debug("pool: closing idle connection", "relay", url)
				rc.markClosed()
			}
			delete(p.connections, url)
		}
	}
}

// CloseRelay closes a specific relay connection
func (p *Pool) CloseRelay(relayURL string) {
	p.mu.Lock()
	rc := p.connections[relayURL]
	delete(p.connections, relayURL)
	p.mu.Unlock()

	if rc != nil {
		rc.markClosed()
	}
}

// Close shuts down every connection in the pool and stops the reaper
func (p *Pool) Close() {
	p.doneOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.connections))
	for url, rc := range p.connections {
		conns = append(conns, rc)
		delete(p.connections, url)
	}
	p.mu.Unlock()

	for _, rc := range conns {
		rc.markClosed()
	}
}
