package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nostr-accountd/internal/nips"
	"nostr-accountd/internal/nostr"
)

var (
	// ErrRequestTimedOut is returned when the wallet never answered within
	// the request deadline
	ErrRequestTimedOut = errors.New("wallet request timed out")

	// ErrMalformedResponse is returned when the wallet's response decrypts
	// but cannot be interpreted
	ErrMalformedResponse = errors.New("malformed wallet response")

	// ErrNotConnected is returned when a request is attempted on a closed client
	ErrNotConnected = errors.New("not connected to wallet relay")
)

// WalletError is a structured error the wallet itself returned (NIP-47
// error object). Distinct from transport failures.
type WalletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("wallet error %s: %s", e.Code, e.Message)
}

// Standard NIP-47 error codes
const (
	CodeRateLimited         = "RATE_LIMITED"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeRestricted          = "RESTRICTED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL"
	CodeOther               = "OTHER"
)

// request is the NIP-47 JSON-RPC request body
type request struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// response is the NIP-47 JSON-RPC response body
type response struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *WalletError    `json:"error,omitempty"`
}

// walletReply is what the read loop hands to a waiting call: either a
// decoded response or the reason the correlated event was unusable
type walletReply struct {
	resp *response
	err  error
}

// BalanceResult is the get_balance result
type BalanceResult struct {
	Balance int64 `json:"balance"` // millisatoshis
}

const eoseWait = 5 * time.Second

// Client talks NIP-47 to one wallet service over its relay. It owns a
// dedicated websocket connection; concurrent requests are correlated back
// through the e tag of the response event.
type Client struct {
	conn *Connection

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	subID     string
	useNip44  bool // set when the wallet's info event advertises nip44

	pendingMu sync.Mutex
	pending   map[string]chan walletReply

	done         chan struct{}
	eoseReceived chan struct{}
}

// NewClient creates a client for the given wallet connection. Call Connect
// before issuing requests.
func NewClient(conn *Connection) *Client {
	return &Client{
		conn:         conn,
		pending:      make(map[string]chan walletReply),
		done:         make(chan struct{}),
		eoseReceived: make(chan struct{}),
	}
}

// Connect dials the wallet relay and subscribes to responses addressed to
// this client. Returns once the subscription is confirmed active (EOSE) or
// a grace period passes.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.conn.Relay, nil)
	if err != nil {
		return fmt.Errorf("dial wallet relay %s: %w", c.conn.Relay, err)
	}
	c.ws = ws
	c.connected = true

	c.subID = "nwc-" + uuid.NewString()[:8]
	subReq := []interface{}{"REQ", c.subID, map[string]interface{}{
		"kinds":   []int{nostr.KindNWCResponse},
		"authors": []string{c.conn.WalletPubKeyHex()},
		"#p":      []string{c.conn.ClientPubKeyHex()},
	}}
	if err := ws.WriteJSON(subReq); err != nil {
		ws.Close()
		c.connected = false
		return fmt.Errorf("subscribe on wallet relay: %w", err)
	}

	// Best-effort capability lookup; the wallet's info event tells us
	// whether it speaks nip44
	infoReq := []interface{}{"REQ", "nwc-info-" + uuid.NewString()[:8], map[string]interface{}{
		"kinds":   []int{nostr.KindNWCInfo},
		"authors": []string{c.conn.WalletPubKeyHex()},
		"limit":   1,
	}}
	if err := ws.WriteJSON(infoReq); err != nil {
		slog.Debug("wallet info subscribe failed", "relay", c.conn.Relay, "error", err)
	}

	go c.readLoop()

	// Some relays only deliver events once the subscription is confirmed;
	// wait for EOSE but don't block forever on relays that skip it
	select {
	case <-c.eoseReceived:
	case <-time.After(eoseWait):
		slog.Debug("wallet relay EOSE timeout, proceeding", "relay", c.conn.Relay)
	case <-ctx.Done():
		return ctx.Err()
	}

	slog.Debug("wallet relay connected", "relay", c.conn.Relay)
	return nil
}

// IsConnected reports whether the client has a live connection
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down the subscription and connection. Pending requests fail
// with a closed channel.
func (c *Client) Close() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}

	c.mu.Lock()
	if c.ws != nil {
		if c.subID != "" {
			c.ws.WriteJSON([]interface{}{"CLOSE", c.subID})
		}
		c.ws.Close()
	}
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		if c.ws != nil {
			c.ws.Close()
		}
		c.mu.Unlock()

		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = make(map[string]chan walletReply)
		c.pendingMu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		var msg []json.RawMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("wallet relay connection lost", "relay", c.conn.Relay, "error", err)
			}
			return
		}
		if len(msg) < 2 {
			continue
		}

		var msgType string
		if err := json.Unmarshal(msg[0], &msgType); err != nil {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) >= 3 {
				c.handleEvent(msg[2])
			}
		case "EOSE":
			select {
			case <-c.eoseReceived:
			default:
				close(c.eoseReceived)
			}
		case "NOTICE":
			var notice string
			json.Unmarshal(msg[1], &notice)
			slog.Debug("wallet relay notice", "relay", c.conn.Relay, "notice", notice)
		}
	}
}

// handleEvent decrypts a wallet response and routes it to the request
// waiting on the e-tagged request event ID
func (c *Client) handleEvent(raw json.RawMessage) {
	var event nostr.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return
	}

	if event.PubKey != c.conn.WalletPubKeyHex() {
		return
	}
	if event.Kind == nostr.KindNWCInfo {
		c.applyWalletInfo(&event)
		return
	}
	if event.Kind != nostr.KindNWCResponse {
		return
	}

	// Correlate first: a response that answers one of our requests but
	// cannot be decoded must fail that request now, not at the deadline
	requestEventID := event.TagValue("e")
	if requestEventID == "" {
		return
	}

	c.pendingMu.Lock()
	ch, exists := c.pending[requestEventID]
	if exists {
		delete(c.pending, requestEventID)
	}
	c.pendingMu.Unlock()
	if !exists {
		return
	}

	decrypted, err := nips.Nip04Decrypt(event.Content, c.conn.Nip04SharedKey)
	if err != nil {
		// Wallets that negotiated nip44 answer in nip44
		decrypted, err = nips.Nip44Decrypt(event.Content, c.conn.ConversationKey)
	}
	if err != nil {
		ch <- walletReply{err: fmt.Errorf("%w: response decryption failed", ErrMalformedResponse)}
		return
	}

	var resp response
	if err := json.Unmarshal([]byte(decrypted), &resp); err != nil {
		ch <- walletReply{err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		return
	}

	ch <- walletReply{resp: &resp}
}

// applyWalletInfo reads the wallet's kind-13194 capability event. The
// encryption scheme is listed either in the content or an encryption tag.
func (c *Client) applyWalletInfo(event *nostr.Event) {
	advertised := event.Content + " " + event.TagValue("encryption")
	if !strings.Contains(advertised, "nip44") {
		return
	}
	c.mu.Lock()
	c.useNip44 = true
	c.mu.Unlock()
	slog.Debug("wallet advertises nip44 encryption", "wallet", event.PubKey)
}

// call issues one NIP-47 request and waits for the matching response.
// The deadline comes from ctx; callers bound it.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	useNip44 := c.useNip44
	c.mu.Unlock()

	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	// NIP-04 is the default most wallet services still speak; nip44 only
	// when the wallet's info event advertised it
	tags := [][]string{{"p", c.conn.WalletPubKeyHex()}}
	var encrypted string
	if useNip44 {
		encrypted, err = nips.Nip44Encrypt(string(body), c.conn.ConversationKey)
		tags = append(tags, []string{"encryption", "nip44_v2"})
	} else {
		encrypted, err = nips.Nip04Encrypt(string(body), c.conn.Nip04SharedKey)
	}
	if err != nil {
		return nil, fmt.Errorf("encrypt %s request: %w", method, err)
	}

	event := &nostr.Event{
		PubKey:    c.conn.ClientPubKeyHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindNWCRequest,
		Tags:      tags,
		Content:   encrypted,
	}
	if err := event.Sign(c.conn.Secret); err != nil {
		return nil, fmt.Errorf("sign %s request: %w", method, err)
	}

	respCh := make(chan walletReply, 1)
	c.pendingMu.Lock()
	c.pending[event.ID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, event.ID)
		c.pendingMu.Unlock()
	}()

	// Some wallet relays only deliver responses to subscriptions carrying
	// the request event ID in #e, so open one before publishing
	reqSubID, err := c.subscribeForResponse(event.ID)
	if err != nil {
		return nil, err
	}
	defer c.closeSubscription(reqSubID)

	c.mu.Lock()
	err = c.ws.WriteJSON([]interface{}{"EVENT", event})
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("publish %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrRequestTimedOut
		}
		return nil, ctx.Err()
	case reply, ok := <-respCh:
		if !ok {
			return nil, ErrNotConnected
		}
		if reply.err != nil {
			return nil, reply.err
		}
		resp := reply.resp
		if resp.Error != nil {
			return nil, resp.Error
		}
		if resp.ResultType != method {
			return nil, fmt.Errorf("%w: result_type %q for %s request", ErrMalformedResponse, resp.ResultType, method)
		}
		return resp.Result, nil
	}
}

func (c *Client) subscribeForResponse(eventID string) (string, error) {
	subID := "nwc-req-" + uuid.NewString()[:8]
	subReq := []interface{}{"REQ", subID, map[string]interface{}{
		"kinds":   []int{nostr.KindNWCResponse},
		"authors": []string{c.conn.WalletPubKeyHex()},
		"#e":      []string{eventID},
	}}

	c.mu.Lock()
	err := c.ws.WriteJSON(subReq)
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("subscribe for response: %w", err)
	}
	return subID, nil
}

func (c *Client) closeSubscription(subID string) {
	c.mu.Lock()
	if c.ws != nil {
		c.ws.WriteJSON([]interface{}{"CLOSE", subID})
	}
	c.mu.Unlock()
}

// GetBalance queries the wallet balance in millisatoshis
func (c *Client) GetBalance(ctx context.Context) (*BalanceResult, error) {
	raw, err := c.call(ctx, "get_balance", nil)
	if err != nil {
		return nil, err
	}

	var result BalanceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &result, nil
}
