package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/questline/session-server-go/internal/errors"
	"github.com/questline/session-server-go/internal/model"
)

// Store is the persistence contract the actor commits through. Load is the
// sole recovery path after a restart.
type Store interface {
	Load(ctx context.Context, inviteCode string) (*model.GameState, error)
	Save(ctx context.Context, state *model.GameState) error
	AppendLog(ctx context.Context, inviteCode string, entry model.ActivityEntry) error
	Delete(ctx context.Context, inviteCode string) error
}

// Broadcaster fans a committed event out to every open connection of the
// session. Implementations must not block the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, inviteCode string, message any)
}

// Actor is the single writer of one session's state. Every command runs
// under the actor's mutex, so no command ever observes a half-applied
// previous command. Commands mutate a working copy and the durable write is
// the commit point: on any error the in-memory state is untouched.
type Actor struct {
	inviteCode  string
	store       Store
	broadcaster Broadcaster

	mu         sync.Mutex
	loaded     bool
	state      *model.GameState
	lastActive time.Time
}

func NewActor(inviteCode string, store Store, broadcaster Broadcaster) *Actor {
	return &Actor{
		inviteCode:  inviteCode,
		store:       store,
		broadcaster: broadcaster,
		lastActive:  time.Now(),
	}
}

func (a *Actor) InviteCode() string {
	return a.inviteCode
}

// ensureLoaded pulls durable state into memory exactly once per actor
// lifetime. Callers must not hold a.mu.
func (a *Actor) ensureLoaded(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return nil
	}

	state, err := a.store.Load(ctx, a.inviteCode)
	if err != nil {
		return apperrors.Database(err)
	}
	a.state = state
	a.loaded = true
	return nil
}

// Initialized reports whether the session exists (has committed state).
func (a *Actor) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != nil
}

// LastActive is the time of the last processed command, used for idle
// eviction.
func (a *Actor) LastActive() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActive
}

// Snapshot returns a deep copy of the current state, or nil when the
// session is not initialized.
func (a *Actor) Snapshot() *model.GameState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Member returns the roster entry matching the player id or email, or nil.
func (a *Actor) Member(playerID, playerEmail string) *model.Player {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == nil {
		return nil
	}
	if p := a.state.FindPlayer(playerID, playerEmail); p != nil {
		member := *p
		return &member
	}
	return nil
}

type InitializeParams struct {
	HostID       string
	Quest        json.RawMessage
	World        json.RawMessage
	StartingArea string
}

// Initialize creates the session in waiting status. Calling it twice for
// the same invite code fails.
func (a *Actor) Initialize(ctx context.Context, p InitializeParams) (*model.GameState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state != nil {
		return nil, apperrors.AlreadyInitialized(a.inviteCode)
	}
	if p.HostID == "" {
		return nil, apperrors.MissingRequired("hostId")
	}

	now := time.Now().UTC()
	next := &model.GameState{
		ID:         uuid.New().String(),
		InviteCode: a.inviteCode,
		HostID:     p.HostID,
		Status:     model.GameStatusWaiting,
		Quest:      p.Quest,
		World:      p.World,
		Map: model.MapState{
			CurrentMapID: p.StartingArea,
		},
		Players:     []model.Player{},
		ActivityLog: []model.ActivityEntry{},
		Version:     1,
		LastUpdated: now,
		CreatedAt:   now,
	}

	entry := newActivityEntry(model.ActivityTypeGameCreated, p.HostID, "Game created", nil)
	next.ActivityLog = append(next.ActivityLog, entry)

	if err := a.commit(ctx, next, entry); err != nil {
		return nil, err
	}

	a.broadcast(ctx, model.EventGameStateUpdate)
	return a.state.Clone(), nil
}

// JoinCharacter is the explicit character payload of a join request. A nil
// payload means a bare connect: membership is never created and no
// placeholder character is fabricated.
type JoinCharacter struct {
	CharacterID   string
	CharacterName string
}

type JoinParams struct {
	PlayerID    string
	PlayerEmail string
	Character   *JoinCharacter
}

// Join adds the player to the roster. Joining twice (matched by player id
// or email) is a no-op success.
func (a *Actor) Join(ctx context.Context, p JoinParams) (*model.GameState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return nil, apperrors.NotFound("Game")
	}
	if p.PlayerID == "" {
		return nil, apperrors.MissingRequired("playerId")
	}

	// Idempotent: existing members are tolerated regardless of status.
	if a.state.FindPlayer(p.PlayerID, p.PlayerEmail) != nil {
		return a.state.Clone(), nil
	}

	if a.state.Status != model.GameStatusWaiting {
		return nil, apperrors.GameAlreadyStarted()
	}

	// Bare connect of a non-member: nothing to materialize.
	if p.Character == nil {
		return a.state.Clone(), nil
	}

	characterID := p.Character.CharacterID
	characterName := p.Character.CharacterName
	var character model.Character
	if characterID == "" {
		character = model.DefaultCharacter(uuid.New().String(), characterName)
		characterID = character.ID
		characterName = character.Name
	} else {
		if characterName == "" {
			characterName = "Adventurer"
		}
		character = model.Character{ID: characterID, Name: characterName}
	}

	next := a.state.Clone()
	next.Players = append(next.Players, model.Player{
		PlayerID:      p.PlayerID,
		PlayerEmail:   p.PlayerEmail,
		CharacterID:   characterID,
		CharacterName: characterName,
		Character:     character,
		JoinedAt:      time.Now().UTC(),
	})

	entry := newActivityEntry(model.ActivityTypePlayerJoin, p.PlayerID,
		fmt.Sprintf("%s joined the party", characterName), nil)
	next.ActivityLog = append(next.ActivityLog, entry)
	bumpVersion(next)

	if err := a.commit(ctx, next, entry); err != nil {
		return nil, err
	}

	a.broadcast(ctx, model.EventPlayerJoined)
	return a.state.Clone(), nil
}

// Start transitions the session to active. Host-only, and only legal from
// waiting.
func (a *Actor) Start(ctx context.Context, hostID string, initial *model.StartState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return apperrors.NotFound("Game")
	}
	if hostID != a.state.HostID {
		return apperrors.Forbidden("Only the host can start the game")
	}
	if a.state.Status != model.GameStatusWaiting {
		return apperrors.GameAlreadyStarted()
	}

	next := a.state.Clone()
	next.Status = model.GameStatusActive
	next.Draft = nil

	if initial == nil {
		initial = &model.StartState{DMMode: true}
	}

	next.Turn = model.TurnState{InitiativeOrder: initial.InitiativeOrder}
	if initial.DMMode {
		// Players see a paused indicator until the DM explicitly resumes.
		next.Turn.Paused = &model.PausedTurn{Entity: model.DMEntity, TurnNumber: 1}
	} else {
		entity := model.DMEntity
		if len(initial.InitiativeOrder) > 0 {
			entity = initial.InitiativeOrder[0]
		}
		next.Turn.Active = &model.ActiveTurn{Entity: entity, TurnNumber: 1}
	}

	if initial.CurrentMapID != "" {
		next.Map.CurrentMapID = initial.CurrentMapID
	}
	if len(initial.Tokens) > 0 {
		next.Map.Tokens = make(map[string]model.MapToken, len(initial.Tokens))
		for id, tok := range initial.Tokens {
			tok.ID = id
			if tok.UpdatedAt.IsZero() {
				tok.UpdatedAt = time.Now().UTC()
			}
			next.Map.Tokens[id] = tok
		}
	}

	entry := newActivityEntry(model.ActivityTypeGameStarted, hostID, "The adventure begins", nil)
	next.ActivityLog = append(next.ActivityLog, entry)
	if initial.Narration != "" {
		narration := newActivityEntry(model.ActivityTypeNarration, hostID, initial.Narration, nil)
		next.ActivityLog = append(next.ActivityLog, narration)
	}
	bumpVersion(next)

	if err := a.commit(ctx, next, entry); err != nil {
		return err
	}

	a.broadcast(ctx, model.EventGameStateUpdate)
	return nil
}

// PlayerAction authorizes and relays a player intent. The actor does not
// interpret the action; downstream rule collaborators react to the
// broadcast.
func (a *Actor) PlayerAction(ctx context.Context, playerID, characterID string, action json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return apperrors.NotFound("Game")
	}
	if a.state.Status != model.GameStatusActive {
		return apperrors.GameNotActive()
	}

	player := a.state.FindPlayer(playerID, "")
	if player == nil {
		return apperrors.InvalidPlayer("Player is not a member of this game")
	}
	if player.CharacterID != characterID {
		return apperrors.InvalidPlayer("Character does not belong to this player")
	}

	payload := map[string]any{
		"playerId":    playerID,
		"characterId": characterID,
		"action":      json.RawMessage(action),
	}
	a.broadcastMessage(ctx, model.NewStateMessage(model.EventPlayerAction, payload))
	return nil
}

// DMAction applies a host-only narrative command. Unknown types are a
// no-op, not an error.
func (a *Actor) DMAction(ctx context.Context, hostID string, actionType model.DMActionType, data json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return apperrors.NotFound("Game")
	}
	if hostID != a.state.HostID {
		return apperrors.Forbidden("Only the host can perform DM actions")
	}

	switch actionType {
	case model.DMActionNarrate, model.DMActionAdvanceStory:
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
			return apperrors.InvalidPayload("narration requires a message")
		}

		next := a.state.Clone()
		entry := newActivityEntry(model.ActivityTypeNarration, hostID, payload.Message, nil)
		next.ActivityLog = append(next.ActivityLog, entry)
		bumpVersion(next)

		if err := a.commit(ctx, next, entry); err != nil {
			return err
		}

	case model.DMActionUpdateCharacter:
		var payload model.UpdateCharacterData
		if err := json.Unmarshal(data, &payload); err != nil || payload.PlayerID == "" {
			return apperrors.InvalidPayload("updateCharacter requires a playerId")
		}

		next := a.state.Clone()
		player := next.FindPlayer(payload.PlayerID, "")
		if player == nil {
			return apperrors.InvalidPlayer("Player is not a member of this game")
		}
		mergeCharacter(player, payload)
		bumpVersion(next)

		if err := a.commit(ctx, next, model.ActivityEntry{}); err != nil {
			return err
		}

	default:
		log.Debug().
			Str("inviteCode", a.inviteCode).
			Str("type", string(actionType)).
			Msg("ignoring unknown dm action type")
		return nil
	}

	a.broadcast(ctx, model.EventDMAction)
	return nil
}

// MoveToken writes new coordinates for a map token and appends one
// token:moved log entry. Bounds and collision checks belong to the map
// collaborator.
func (a *Actor) MoveToken(ctx context.Context, tokenID string, x, y float64, actorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return apperrors.NotFound("Game")
	}
	if a.state.Status != model.GameStatusActive {
		return apperrors.GameNotActive()
	}

	token, ok := a.state.Map.Tokens[tokenID]
	if !ok {
		return apperrors.NotFound("Token")
	}

	next := a.state.Clone()
	token.X = x
	token.Y = y
	token.UpdatedAt = time.Now().UTC()
	next.Map.Tokens[tokenID] = token

	data, _ := json.Marshal(map[string]any{"tokenId": tokenID, "x": x, "y": y})
	entry := newActivityEntry(model.ActivityTypeTokenMoved, actorID,
		fmt.Sprintf("Token %s moved to (%g, %g)", tokenID, x, y), data)
	next.ActivityLog = append(next.ActivityLog, entry)
	bumpVersion(next)

	if err := a.commit(ctx, next, entry); err != nil {
		return err
	}

	a.broadcast(ctx, model.EventGameStateUpdate)
	return nil
}

// Delete purges the session and its activity log. Host-only and terminal.
func (a *Actor) Delete(ctx context.Context, hostID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return apperrors.NotFound("Game")
	}
	if hostID != a.state.HostID {
		return apperrors.Forbidden("Only the host can delete the game")
	}

	if err := a.store.Delete(ctx, a.inviteCode); err != nil {
		return apperrors.Database(err)
	}
	a.state = nil
	return nil
}

// commit is the all-or-nothing boundary: the durable write either succeeds
// and the working copy becomes the state, or the command fails with the
// previous state intact. The activity table append is best effort; the
// committed state document already carries the entry.
func (a *Actor) commit(ctx context.Context, next *model.GameState, entry model.ActivityEntry) error {
	if err := a.store.Save(ctx, next); err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return apperrors.Database(err)
	}
	a.state = next

	if entry.ID != "" {
		if err := a.store.AppendLog(ctx, a.inviteCode, entry); err != nil {
			log.Error().Err(err).
				Str("inviteCode", a.inviteCode).
				Str("entryType", entry.Type).
				Msg("failed to append activity log entry")
		}
	}
	return nil
}

// broadcast pushes the refreshed state through the fan-out path. Callers
// hold a.mu; the send itself never blocks the actor.
func (a *Actor) broadcast(ctx context.Context, event string) {
	a.broadcastMessage(ctx, model.NewStateMessage(event, a.state.Clone()))
}

func (a *Actor) broadcastMessage(ctx context.Context, message any) {
	if a.broadcaster == nil {
		return
	}
	a.broadcaster.Broadcast(ctx, a.inviteCode, message)
}

func bumpVersion(state *model.GameState) {
	state.Version++
	state.LastUpdated = time.Now().UTC()
}

func newActivityEntry(entryType, actorID, description string, data json.RawMessage) model.ActivityEntry {
	return model.ActivityEntry{
		ID:          uuid.New().String(),
		Type:        entryType,
		ActorID:     actorID,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Data:        data,
	}
}

func mergeCharacter(player *model.Player, update model.UpdateCharacterData) {
	if update.CharacterName != "" {
		player.CharacterName = update.CharacterName
		player.Character.Name = update.CharacterName
	}
	if update.Class != "" {
		player.Character.Class = update.Class
	}
	if update.Level != nil {
		player.Character.Level = *update.Level
	}
	for k, v := range update.Stats {
		if player.Character.Stats == nil {
			player.Character.Stats = make(map[string]int)
		}
		player.Character.Stats[k] = v
	}
	if len(update.Extras) > 0 {
		var extras map[string]any
		if err := json.Unmarshal(update.Extras, &extras); err == nil {
			if player.Character.Extras == nil {
				player.Character.Extras = make(map[string]any)
			}
			for k, v := range extras {
				player.Character.Extras[k] = v
			}
		}
	}
}
