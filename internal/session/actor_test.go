package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/questline/session-server-go/internal/errors"
	"github.com/questline/session-server-go/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	states  map[string]*model.GameState
	log     map[string][]model.ActivityEntry
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		states: make(map[string]*model.GameState),
		log:    make(map[string][]model.ActivityEntry),
	}
}

func (s *memStore) Load(ctx context.Context, inviteCode string) (*model.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[inviteCode].Clone(), nil
}

func (s *memStore) Save(ctx context.Context, state *model.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if prev, ok := s.states[state.InviteCode]; ok && state.Version != prev.Version+1 {
		return apperrors.Conflict("stale write: game state version mismatch")
	}
	s.states[state.InviteCode] = state.Clone()
	return nil
}

func (s *memStore) AppendLog(ctx context.Context, inviteCode string, entry model.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log[inviteCode] = append(s.log[inviteCode], entry)
	return nil
}

func (s *memStore) Delete(ctx context.Context, inviteCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, inviteCode)
	delete(s.log, inviteCode)
	return nil
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []any
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, inviteCode string, message any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func startedActor(t *testing.T) (*Actor, *memStore, *recordingBroadcaster) {
	t.Helper()
	ctx := context.Background()

	store := newMemStore()
	broadcaster := &recordingBroadcaster{}
	actor := NewActor("JOINME", store, broadcaster)
	require.NoError(t, actor.ensureLoaded(ctx))

	_, err := actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
	require.NoError(t, err)

	_, err = actor.Join(ctx, JoinParams{
		PlayerID:  "player-1",
		Character: &JoinCharacter{CharacterID: "char-1", CharacterName: "Hero"},
	})
	require.NoError(t, err)

	require.NoError(t, actor.Start(ctx, "host-1", &model.StartState{
		DMMode: true,
		Tokens: map[string]model.MapToken{
			"token-1": {X: 0, Y: 0},
		},
	}))
	return actor, store, broadcaster
}

func TestActorInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("creates waiting session", func(t *testing.T) {
		actor := NewActor("ABC123", newMemStore(), &recordingBroadcaster{})
		require.NoError(t, actor.ensureLoaded(ctx))

		state, err := actor.Initialize(ctx, InitializeParams{
			HostID:       "host-1",
			Quest:        json.RawMessage(`{"title":"The Sunken Keep"}`),
			StartingArea: "map-1",
		})
		require.NoError(t, err)

		assert.Equal(t, "ABC123", state.InviteCode)
		assert.Equal(t, "host-1", state.HostID)
		assert.Equal(t, model.GameStatusWaiting, state.Status)
		assert.Equal(t, "map-1", state.Map.CurrentMapID)
		assert.EqualValues(t, 1, state.Version)
		assert.Len(t, state.ActivityLog, 1)
	})

	t.Run("fails when called twice", func(t *testing.T) {
		actor := NewActor("ABC123", newMemStore(), &recordingBroadcaster{})
		require.NoError(t, actor.ensureLoaded(ctx))

		_, err := actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
		require.NoError(t, err)

		_, err = actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyInitialized))
	})
}

func TestActorJoin(t *testing.T) {
	ctx := context.Background()

	newWaiting := func(t *testing.T) *Actor {
		actor := NewActor("JOINME", newMemStore(), &recordingBroadcaster{})
		require.NoError(t, actor.ensureLoaded(ctx))
		_, err := actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
		require.NoError(t, err)
		return actor
	}

	t.Run("join is idempotent by player id", func(t *testing.T) {
		actor := newWaiting(t)

		p := JoinParams{PlayerID: "player-1", Character: &JoinCharacter{CharacterID: "char-1", CharacterName: "Hero"}}
		state, err := actor.Join(ctx, p)
		require.NoError(t, err)
		require.Len(t, state.Players, 1)
		version := state.Version

		state, err = actor.Join(ctx, p)
		require.NoError(t, err)
		assert.Len(t, state.Players, 1)
		assert.Equal(t, version, state.Version, "no-op join must not commit")
	})

	t.Run("join is idempotent by email", func(t *testing.T) {
		actor := newWaiting(t)

		_, err := actor.Join(ctx, JoinParams{
			PlayerID:    "player-1",
			PlayerEmail: "player@example.com",
			Character:   &JoinCharacter{CharacterName: "Hero"},
		})
		require.NoError(t, err)

		state, err := actor.Join(ctx, JoinParams{
			PlayerID:    "different-device-id",
			PlayerEmail: "player@example.com",
			Character:   &JoinCharacter{CharacterName: "Hero"},
		})
		require.NoError(t, err)
		assert.Len(t, state.Players, 1)
	})

	t.Run("materializes default character when none named", func(t *testing.T) {
		actor := newWaiting(t)

		state, err := actor.Join(ctx, JoinParams{PlayerID: "player-1", Character: &JoinCharacter{CharacterName: "Mira"}})
		require.NoError(t, err)
		require.Len(t, state.Players, 1)

		player := state.Players[0]
		assert.Equal(t, "Mira", player.CharacterName)
		assert.NotEmpty(t, player.CharacterID)
		assert.Equal(t, 10, player.Character.Stats["hp"])
		assert.Equal(t, 1, player.Character.Level)
	})

	t.Run("bare connect never fabricates membership", func(t *testing.T) {
		actor := newWaiting(t)

		state, err := actor.Join(ctx, JoinParams{PlayerID: "player-1"})
		require.NoError(t, err)
		assert.Empty(t, state.Players)
	})

	t.Run("rejects new joins after start", func(t *testing.T) {
		actor := newWaiting(t)
		_, err := actor.Join(ctx, JoinParams{PlayerID: "player-1", Character: &JoinCharacter{CharacterID: "char-1"}})
		require.NoError(t, err)
		require.NoError(t, actor.Start(ctx, "host-1", nil))

		_, err = actor.Join(ctx, JoinParams{PlayerID: "player-2", Character: &JoinCharacter{CharacterID: "char-2"}})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeGameAlreadyStarted))

		// Existing members reconnecting to an active game are tolerated.
		state, err := actor.Join(ctx, JoinParams{PlayerID: "player-1"})
		require.NoError(t, err)
		assert.Len(t, state.Players, 1)
	})
}

func TestActorStart(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *Actor {
		actor := NewActor("JOINME", newMemStore(), &recordingBroadcaster{})
		require.NoError(t, actor.ensureLoaded(ctx))
		_, err := actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
		require.NoError(t, err)
		return actor
	}

	t.Run("host-only gate", func(t *testing.T) {
		actor := setup(t)

		err := actor.Start(ctx, "imposter", nil)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

		state := actor.Snapshot()
		assert.Equal(t, model.GameStatusWaiting, state.Status, "failed start must not mutate state")
	})

	t.Run("dm mode starts paused on the dm", func(t *testing.T) {
		actor := setup(t)

		require.NoError(t, actor.Start(ctx, "host-1", &model.StartState{DMMode: true}))

		state := actor.Snapshot()
		assert.Equal(t, model.GameStatusActive, state.Status)
		require.NotNil(t, state.Turn.Paused)
		assert.Nil(t, state.Turn.Active)
		assert.Equal(t, model.DMEntity, state.Turn.Paused.Entity)
	})

	t.Run("initiative mode starts active on first entity", func(t *testing.T) {
		actor := setup(t)

		require.NoError(t, actor.Start(ctx, "host-1", &model.StartState{
			InitiativeOrder: []string{"char-1", "char-2"},
		}))

		state := actor.Snapshot()
		require.NotNil(t, state.Turn.Active)
		assert.Nil(t, state.Turn.Paused)
		assert.Equal(t, "char-1", state.Turn.Active.Entity)
	})

	t.Run("second start fails", func(t *testing.T) {
		actor := setup(t)
		require.NoError(t, actor.Start(ctx, "host-1", nil))

		err := actor.Start(ctx, "host-1", nil)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeGameAlreadyStarted))
	})
}

func TestActorPlayerAction(t *testing.T) {
	ctx := context.Background()
	action := json.RawMessage(`{"kind":"attack","target":"goblin"}`)

	t.Run("relays without mutating state", func(t *testing.T) {
		actor, _, broadcaster := startedActor(t)
		before := actor.Snapshot()
		sent := broadcaster.count()

		require.NoError(t, actor.PlayerAction(ctx, "player-1", "char-1", action))

		after := actor.Snapshot()
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, sent+1, broadcaster.count())
	})

	t.Run("rejects character the player does not own", func(t *testing.T) {
		actor, _, _ := startedActor(t)

		err := actor.PlayerAction(ctx, "player-1", "someone-elses-char", action)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidPlayer))
	})

	t.Run("rejects non-members", func(t *testing.T) {
		actor, _, _ := startedActor(t)

		err := actor.PlayerAction(ctx, "stranger", "char-1", action)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidPlayer))
	})

	t.Run("requires active game", func(t *testing.T) {
		store := newMemStore()
		actor := NewActor("JOINME", store, &recordingBroadcaster{})
		require.NoError(t, actor.ensureLoaded(ctx))
		_, err := actor.Initialize(ctx, InitializeParams{HostID: "host-1"})
		require.NoError(t, err)

		err = actor.PlayerAction(ctx, "player-1", "char-1", action)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeGameNotActive))
	})
}

func TestActorDMAction(t *testing.T) {
	ctx := context.Background()

	t.Run("host-only gate", func(t *testing.T) {
		actor, _, _ := startedActor(t)
		before := actor.Snapshot()

		err := actor.DMAction(ctx, "imposter", model.DMActionNarrate, json.RawMessage(`{"message":"hi"}`))
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
		assert.Equal(t, before.Version, actor.Snapshot().Version)
	})

	t.Run("narrate appends a log entry", func(t *testing.T) {
		actor, _, _ := startedActor(t)
		before := len(actor.Snapshot().ActivityLog)

		err := actor.DMAction(ctx, "host-1", model.DMActionNarrate, json.RawMessage(`{"message":"A cold wind rises."}`))
		require.NoError(t, err)

		logEntries := actor.Snapshot().ActivityLog
		require.Len(t, logEntries, before+1)
		last := logEntries[len(logEntries)-1]
		assert.Equal(t, model.ActivityTypeNarration, last.Type)
		assert.Equal(t, "A cold wind rises.", last.Description)
	})

	t.Run("updateCharacter merges partial fields", func(t *testing.T) {
		actor, _, _ := startedActor(t)

		data, _ := json.Marshal(model.UpdateCharacterData{
			PlayerID: "player-1",
			Stats:    map[string]int{"hp": 7},
		})
		require.NoError(t, actor.DMAction(ctx, "host-1", model.DMActionUpdateCharacter, data))

		player := actor.Snapshot().Players[0]
		assert.Equal(t, 7, player.Character.Stats["hp"])
		assert.Equal(t, "Hero", player.CharacterName, "unset fields stay merged")
	})

	t.Run("unknown type is a no-op", func(t *testing.T) {
		actor, _, _ := startedActor(t)
		before := actor.Snapshot()

		err := actor.DMAction(ctx, "host-1", "timeTravel", json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.Equal(t, before.Version, actor.Snapshot().Version)
	})
}

func TestActorMoveToken(t *testing.T) {
	ctx := context.Background()

	t.Run("moves and logs in call order", func(t *testing.T) {
		actor, store, _ := startedActor(t)
		before := len(actor.Snapshot().ActivityLog)

		const moves = 5
		for i := 1; i <= moves; i++ {
			require.NoError(t, actor.MoveToken(ctx, "token-1", float64(i), float64(i*2), "player-1"))
		}

		state := actor.Snapshot()
		token := state.Map.Tokens["token-1"]
		assert.Equal(t, float64(moves), token.X)
		assert.Equal(t, float64(moves*2), token.Y)

		logEntries := state.ActivityLog[before:]
		require.Len(t, logEntries, moves)
		for i, entry := range logEntries {
			assert.Equal(t, model.ActivityTypeTokenMoved, entry.Type)
			var data struct {
				TokenID string  `json:"tokenId"`
				X       float64 `json:"x"`
			}
			require.NoError(t, json.Unmarshal(entry.Data, &data))
			assert.Equal(t, "token-1", data.TokenID)
			assert.Equal(t, float64(i+1), data.X)
		}

		// The durable append-only trail grew by the same amount.
		store.mu.Lock()
		appended := len(store.log["JOINME"])
		store.mu.Unlock()
		assert.GreaterOrEqual(t, appended, moves)
	})

	t.Run("unknown token", func(t *testing.T) {
		actor, _, _ := startedActor(t)

		err := actor.MoveToken(ctx, "ghost", 1, 1, "player-1")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("failed save leaves state untouched", func(t *testing.T) {
		actor, store, _ := startedActor(t)
		before := actor.Snapshot()

		store.mu.Lock()
		store.saveErr = errors.New("disk on fire")
		store.mu.Unlock()

		err := actor.MoveToken(ctx, "token-1", 9, 9, "player-1")
		require.Error(t, err)

		after := actor.Snapshot()
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, before.Map.Tokens["token-1"], after.Map.Tokens["token-1"])
		assert.Len(t, after.ActivityLog, len(before.ActivityLog))
	})
}

func TestActorTurnMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("resume then pause keeps exactly one side populated", func(t *testing.T) {
		actor, _, _ := startedActor(t)

		state := actor.Snapshot()
		require.NotNil(t, state.Turn.Paused)
		require.Nil(t, state.Turn.Active)

		require.NoError(t, actor.ResumeTurn(ctx, "host-1"))
		state = actor.Snapshot()
		require.NotNil(t, state.Turn.Active)
		require.Nil(t, state.Turn.Paused)
		assert.Equal(t, model.DMEntity, state.Turn.Active.Entity)

		require.NoError(t, actor.PauseTurn(ctx, "host-1"))
		state = actor.Snapshot()
		require.NotNil(t, state.Turn.Paused)
		require.Nil(t, state.Turn.Active)
	})

	t.Run("resume is host-only", func(t *testing.T) {
		actor, _, _ := startedActor(t)

		err := actor.ResumeTurn(ctx, "player-1")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("resume of an active turn conflicts", func(t *testing.T) {
		actor, _, _ := startedActor(t)
		require.NoError(t, actor.ResumeTurn(ctx, "host-1"))

		err := actor.ResumeTurn(ctx, "host-1")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
	})
}

func TestActorDelete(t *testing.T) {
	ctx := context.Background()

	actor, store, _ := startedActor(t)

	err := actor.Delete(ctx, "imposter")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	require.NoError(t, actor.Delete(ctx, "host-1"))
	assert.False(t, actor.Initialized())

	store.mu.Lock()
	_, stateExists := store.states["JOINME"]
	logLen := len(store.log["JOINME"])
	store.mu.Unlock()
	assert.False(t, stateExists)
	assert.Zero(t, logLen)
}

// Concurrent commands against one session must serialize: the result equals
// some serial ordering, with no interleaved partial application.
func TestActorSerializesConcurrentCommands(t *testing.T) {
	ctx := context.Background()
	actor, _, _ := startedActor(t)

	const workers = 8
	const movesPerWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < movesPerWorker; i++ {
				_ = actor.MoveToken(ctx, "token-1", float64(w), float64(i), "player-1")
			}
		}(w)
	}
	wg.Wait()

	state := actor.Snapshot()

	moved := 0
	for _, entry := range state.ActivityLog {
		if entry.Type == model.ActivityTypeTokenMoved {
			moved++
		}
	}
	assert.Equal(t, workers*movesPerWorker, moved)

	// Version advanced once per committed command, so no commit was lost
	// or interleaved.
	assert.EqualValues(t, state.Version, int64(moved)+3, fmt.Sprintf("log: %d", moved))
}
