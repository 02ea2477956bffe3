package profile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nostr-accountd/internal/accounts"
	"nostr-accountd/internal/keys"
	"nostr-accountd/internal/nostr"
	"nostr-accountd/internal/relay"
)

var testBootstrap = []string{"wss://bootstrap.example"}

type fakeTransport struct {
	report          relay.PublishReport
	publishedEvent  *nostr.Event
	publishedRelays []string
}

func (f *fakeTransport) Fetch(_ context.Context, _ []string, _ nostr.Filter) (relay.FetchResult, error) {
	return relay.FetchResult{}, nil
}

func (f *fakeTransport) Publish(_ context.Context, relays []string, event *nostr.Event) relay.PublishReport {
	f.publishedRelays = relays
	f.publishedEvent = event
	return f.report
}

func newTestStore(t *testing.T) accounts.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	crypter, err := keys.NewAESCrypter(key)
	require.NoError(t, err)

	store, err := accounts.NewGormStore(db, crypter)
	require.NoError(t, err)
	return store
}

func newTestAccount(t *testing.T, store accounts.Store) accounts.Account {
	t.Helper()
	secret, err := keys.Generate()
	require.NoError(t, err)
	account, err := store.Create(secret)
	require.NoError(t, err)
	return account
}

func TestPublishSignsAndFansOut(t *testing.T) {
	store := newTestStore(t)
	account := newTestAccount(t, store)
	require.NoError(t, store.SetRelayList(account.PubKey, []accounts.RelayEntry{
		{URL: "wss://a.example", Read: true, Write: true},
		{URL: "wss://read-only.example", Read: true},
	}))

	transport := &fakeTransport{
		report: relay.PublishReport{Succeeded: []string{"wss://a.example"}, Failed: []string{}},
	}
	publisher := NewPublisher(store, transport, testBootstrap, time.Second)

	fields := map[string]string{"name": "alice", "about": "hello"}
	report, err := publisher.Publish(context.Background(), account.PubKey, fields)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://a.example"}, report.Succeeded)

	// Only write relays are targeted
	assert.Equal(t, []string{"wss://a.example"}, transport.publishedRelays)

	event := transport.publishedEvent
	require.NotNil(t, event)
	assert.Equal(t, nostr.KindProfileMetadata, event.Kind)
	assert.Equal(t, account.PubKey, event.PubKey)
	assert.NotEmpty(t, event.ID)
	assert.NotEmpty(t, event.Sig)

	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte(event.Content), &content))
	assert.Equal(t, fields, content)
}

func TestPublishPartialSuccessStillSucceeds(t *testing.T) {
	store := newTestStore(t)
	account := newTestAccount(t, store)
	require.NoError(t, store.SetRelayList(account.PubKey, []accounts.RelayEntry{
		{URL: "wss://a.example", Write: true},
		{URL: "wss://b.example", Write: true},
		{URL: "wss://c.example", Write: true},
	}))

	transport := &fakeTransport{
		report: relay.PublishReport{
			Succeeded: []string{"wss://a.example"},
			Failed:    []string{"wss://b.example", "wss://c.example"},
		},
	}
	publisher := NewPublisher(store, transport, testBootstrap, time.Second)

	report, err := publisher.Publish(context.Background(), account.PubKey, map[string]string{"name": "x"})
	require.NoError(t, err)
	assert.Len(t, report.Failed, 2)

	// Success marks the onboarding step
	got, err := store.Get(account.PubKey)
	require.NoError(t, err)
	assert.True(t, got.Onboarding[accounts.StepProfilePublished])
}

func TestPublishAllRejected(t *testing.T) {
	store := newTestStore(t)
	account := newTestAccount(t, store)
	require.NoError(t, store.SetRelayList(account.PubKey, []accounts.RelayEntry{
		{URL: "wss://a.example", Write: true},
	}))

	transport := &fakeTransport{
		report: relay.PublishReport{Succeeded: []string{}, Failed: []string{"wss://a.example"}},
	}
	publisher := NewPublisher(store, transport, testBootstrap, time.Second)

	report, err := publisher.Publish(context.Background(), account.PubKey, map[string]string{"name": "x"})
	assert.ErrorIs(t, err, ErrNoRelayAccepted)
	assert.Empty(t, report.Succeeded)

	// Failure leaves onboarding untouched
	got, _ := store.Get(account.PubKey)
	assert.False(t, got.Onboarding[accounts.StepProfilePublished])
}

func TestPublishFallsBackToBootstrap(t *testing.T) {
	store := newTestStore(t)
	account := newTestAccount(t, store)

	transport := &fakeTransport{
		report: relay.PublishReport{Succeeded: []string{"wss://bootstrap.example"}, Failed: []string{}},
	}
	publisher := NewPublisher(store, transport, testBootstrap, time.Second)

	_, err := publisher.Publish(context.Background(), account.PubKey, nil)
	require.NoError(t, err)
	assert.Equal(t, testBootstrap, transport.publishedRelays)

	// nil fields publish as an empty JSON object
	assert.Equal(t, "{}", transport.publishedEvent.Content)
}

func TestPublishUnknownAccount(t *testing.T) {
	publisher := NewPublisher(newTestStore(t), &fakeTransport{}, testBootstrap, time.Second)

	_, err := publisher.Publish(context.Background(), "ef00000000000000000000000000000000000000000000000000000000000000", nil)
	assert.ErrorIs(t, err, accounts.ErrUnknownAccount)
}
