package accounts

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-accountd/internal/keys"
	"nostr-accountd/internal/nips"
	"nostr-accountd/internal/relay"
)

// recordingPublisher captures metadata publishes for assertions
type recordingPublisher struct {
	calls chan string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{calls: make(chan string, 8)}
}

func (p *recordingPublisher) Publish(_ context.Context, pubKey string, _ map[string]string) (relay.PublishReport, error) {
	p.calls <- pubKey
	return relay.PublishReport{Succeeded: []string{"wss://a.example"}, Failed: []string{}}, nil
}

func TestCreateIdentity(t *testing.T) {
	store := newTestStore(t)
	publisher := newRecordingPublisher()
	service := NewService(store, publisher)

	view, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)
	assert.Len(t, view.PubKey, 64)
	assert.True(t, view.IsActive)
	assert.Contains(t, view.Npub, "npub1")
	assert.False(t, view.HasWalletConnect)

	// npub decodes back to the hex pubkey
	decoded, err := nips.DecodePubkey(view.Npub)
	require.NoError(t, err)
	assert.Equal(t, view.PubKey, decoded)

	// Initial empty-profile publish happens in the background
	select {
	case published := <-publisher.calls:
		assert.Equal(t, view.PubKey, published)
	case <-time.After(time.Second):
		t.Fatal("no initial metadata publish")
	}
}

func TestCreateIdentityWithoutPublisher(t *testing.T) {
	service := NewService(newTestStore(t), nil)

	view, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)
	assert.True(t, view.IsActive)
}

func TestLoginWithHexAndNsec(t *testing.T) {
	store := newTestStore(t)
	service := NewService(store, nil)

	secret, err := keys.Generate()
	require.NoError(t, err)
	nsec, err := nips.EncodeSecretKey(secret)
	require.NoError(t, err)

	hexView, err := service.Login(hex.EncodeToString(secret))
	require.NoError(t, err)
	assert.True(t, hexView.IsActive)

	// Re-login with the same key in nsec form maps to the same account
	nsecView, err := service.Login(nsec)
	require.NoError(t, err)
	assert.Equal(t, hexView.PubKey, nsecView.PubKey)

	views, err := service.GetAccounts()
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestLoginRejectsGarbage(t *testing.T) {
	service := NewService(newTestStore(t), nil)

	_, err := service.Login("not a key")
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestLogoutOnlyClearsMatchingPointer(t *testing.T) {
	store := newTestStore(t)
	service := NewService(store, nil)

	a, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)
	b, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)

	// b is active now; logging out a changes nothing
	require.NoError(t, service.Logout(a.PubKey))
	active, err := store.ActiveAccount()
	require.NoError(t, err)
	assert.Equal(t, b.PubKey, active)

	require.NoError(t, service.Logout(b.PubKey))
	active, _ = store.ActiveAccount()
	assert.Empty(t, active)

	// The account itself survives logout
	_, err = service.GetAccount(b.PubKey)
	assert.NoError(t, err)
}

func TestGetAccountsAnnotatesActive(t *testing.T) {
	service := NewService(newTestStore(t), nil)

	first, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)
	second, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)

	require.NoError(t, service.SetActiveAccount(first.PubKey))

	views, err := service.GetAccounts()
	require.NoError(t, err)
	require.Len(t, views, 2)

	byPubKey := map[string]View{}
	for _, v := range views {
		byPubKey[v.PubKey] = v
	}
	assert.True(t, byPubKey[first.PubKey].IsActive)
	assert.False(t, byPubKey[second.PubKey].IsActive)
}

func TestUpdateOnboardingThroughService(t *testing.T) {
	service := NewService(newTestStore(t), nil)

	view, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)

	require.NoError(t, service.UpdateOnboarding(view.PubKey, StepBackupConfirmed))

	got, err := service.GetAccount(view.PubKey)
	require.NoError(t, err)
	assert.True(t, got.Onboarding[StepBackupConfirmed])

	assert.ErrorIs(t,
		service.UpdateOnboarding("ab00000000000000000000000000000000000000000000000000000000000000", StepBackupConfirmed),
		ErrUnknownAccount)
}

func TestRemoveAccount(t *testing.T) {
	service := NewService(newTestStore(t), nil)

	view, err := service.CreateIdentity(context.Background())
	require.NoError(t, err)

	require.NoError(t, service.RemoveAccount(view.PubKey))

	_, err = service.GetAccount(view.PubKey)
	assert.ErrorIs(t, err, ErrUnknownAccount)
}
