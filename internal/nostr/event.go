package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds used by the account core
const (
	KindProfileMetadata = 0
	KindRelayList       = 10002 // NIP-65
	KindNWCInfo         = 13194 // NIP-47 wallet capability announcement
	KindNWCRequest      = 23194 // NIP-47 client request to wallet
	KindNWCResponse     = 23195 // NIP-47 wallet response to client
)

// Event is a NIP-01 event
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// ComputeID calculates the event ID: sha256 of the canonical serialization
// [0, pubkey, created_at, kind, tags, content]
func (e *Event) ComputeID() string {
	serialized := fmt.Sprintf(`[0,"%s",%d,%d,%s,%s]`,
		e.PubKey,
		e.CreatedAt,
		e.Kind,
		mustJSON(e.Tags),
		mustJSON(e.Content),
	)

	hash := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(hash[:])
}

// Sign fills in ID and Sig using the given secret key (BIP-340 schnorr)
func (e *Event) Sign(secretKey []byte) error {
	if len(secretKey) != 32 {
		return fmt.Errorf("invalid secret key length %d", len(secretKey))
	}

	privKey, _ := btcec.PrivKeyFromBytes(secretKey)
	if privKey == nil {
		return fmt.Errorf("invalid secret key")
	}

	e.ID = e.ComputeID()

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("invalid event ID hex: %w", err)
	}

	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// TagValue returns the value of the first tag with the given name, or ""
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// Filter is a NIP-01 subscription filter
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	ETags   []string
	PTags   []string
	Limit   int
	Since   *int64
	Until   *int64
}

// ToWire converts the filter to the JSON shape relays expect
func (f Filter) ToWire() map[string]interface{} {
	wire := map[string]interface{}{}
	if len(f.IDs) > 0 {
		wire["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		wire["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		wire["kinds"] = f.Kinds
	}
	if len(f.ETags) > 0 {
		wire["#e"] = f.ETags
	}
	if len(f.PTags) > 0 {
		wire["#p"] = f.PTags
	}
	if f.Limit > 0 {
		wire["limit"] = f.Limit
	}
	if f.Since != nil {
		wire["since"] = *f.Since
	}
	if f.Until != nil {
		wire["until"] = *f.Until
	}
	return wire
}

// ParseEvent parses the third element of an EVENT relay message
func ParseEvent(raw interface{}) (Event, bool) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Event{}, false
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, false
	}
	return evt, true
}
