package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/session-server-go/internal/model"
)

func TestRegistryCreateOnFirstUse(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newMemStore(), &recordingBroadcaster{})

	actor, err := registry.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, actor.Initialized())
	assert.Equal(t, 1, registry.Len())

	// Same invite code resolves to the same actor instance.
	again, err := registry.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.Same(t, actor, again)

	other, err := registry.Get(ctx, "XYZ789")
	require.NoError(t, err)
	assert.NotSame(t, actor, other)
	assert.Equal(t, 2, registry.Len())
}

func TestRegistryRecoversFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	registry := NewRegistry(store, &recordingBroadcaster{})
	actor, err := registry.Get(ctx, "JOINME")
	require.NoError(t, err)
	_, err = actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
	require.NoError(t, err)
	_, err = actor.Join(ctx, JoinParams{PlayerID: "player-1", Character: &JoinCharacter{CharacterName: "Hero"}})
	require.NoError(t, err)

	// A fresh registry over the same store simulates an actor restart:
	// Load is the sole recovery path.
	restarted := NewRegistry(store, &recordingBroadcaster{})
	recovered, err := restarted.Get(ctx, "JOINME")
	require.NoError(t, err)

	state := recovered.Snapshot()
	require.NotNil(t, state)
	assert.Equal(t, "host-1", state.HostID)
	assert.Equal(t, model.GameStatusWaiting, state.Status)
	assert.Len(t, state.Players, 1)
}

func TestRegistryEvict(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	registry := NewRegistry(store, &recordingBroadcaster{})

	actor, err := registry.Get(ctx, "JOINME")
	require.NoError(t, err)
	_, err = actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
	require.NoError(t, err)

	registry.Evict("JOINME")
	assert.Equal(t, 0, registry.Len())

	// Eviction loses nothing: the next Get recovers durable state.
	recovered, err := registry.Get(ctx, "JOINME")
	require.NoError(t, err)
	assert.NotSame(t, actor, recovered)
	assert.True(t, recovered.Initialized())
}

func TestRegistryEvictIdle(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newMemStore(), &recordingBroadcaster{})

	idle, err := registry.Get(ctx, "OLD001")
	require.NoError(t, err)
	idle.mu.Lock()
	idle.lastActive = time.Now().Add(-time.Hour)
	idle.mu.Unlock()

	_, err = registry.Get(ctx, "FRESH1")
	require.NoError(t, err)

	evicted := registry.EvictIdle(30 * time.Minute)
	assert.EqualValues(t, 1, evicted)
	assert.Equal(t, 1, registry.Len())

	_, err = registry.Get(ctx, "FRESH1")
	require.NoError(t, err)
}
