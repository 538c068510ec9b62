package model

import (
	"encoding/json"
	"time"
)

type GameStatus string

const (
	GameStatusWaiting   GameStatus = "waiting"
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
	GameStatusCancelled GameStatus = "cancelled"
)

// GameState is the root aggregate for one session, keyed by invite code.
// It is mutated exclusively by the session actor that owns it.
type GameState struct {
	ID          string          `json:"id"`
	InviteCode  string          `json:"inviteCode"`
	HostID      string          `json:"hostId"`
	Status      GameStatus      `json:"status"`
	Quest       json.RawMessage `json:"quest,omitempty"`
	World       json.RawMessage `json:"world,omitempty"`
	Draft       json.RawMessage `json:"draft,omitempty"`
	Players     []Player        `json:"players"`
	Turn        TurnState       `json:"turn"`
	Map         MapState        `json:"map"`
	ActivityLog []ActivityEntry `json:"activityLog"`
	Version     int64           `json:"version"`
	LastUpdated time.Time       `json:"lastUpdated"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Player is one roster entry. A player belongs to a session at most once.
type Player struct {
	PlayerID      string    `json:"playerId"`
	PlayerEmail   string    `json:"playerEmail,omitempty"`
	CharacterID   string    `json:"characterId,omitempty"`
	CharacterName string    `json:"characterName,omitempty"`
	Character     Character `json:"character"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// Character carries the roster-facing view of a character. Full sheet and
// inventory rules live with the character collaborator.
type Character struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Class  string         `json:"class,omitempty"`
	Level  int            `json:"level,omitempty"`
	Stats  map[string]int `json:"stats,omitempty"`
	Extras map[string]any `json:"extras,omitempty"`
}

// DefaultCharacter is the fixed baseline materialized when a player joins
// with an explicit payload that names no existing character.
func DefaultCharacter(id, name string) Character {
	if name == "" {
		name = "Adventurer"
	}
	return Character{
		ID:    id,
		Name:  name,
		Class: "adventurer",
		Level: 1,
		Stats: map[string]int{
			"hp":       10,
			"maxHp":    10,
			"strength": 10,
			"agility":  10,
			"wits":     10,
		},
	}
}

// TurnState holds the two-state turn machine. Exactly one of Active and
// Paused is populated at any time.
type TurnState struct {
	Active          *ActiveTurn `json:"activeTurn,omitempty"`
	Paused          *PausedTurn `json:"pausedTurn,omitempty"`
	InitiativeOrder []string    `json:"initiativeOrder,omitempty"`
}

type ActiveTurn struct {
	Entity        string         `json:"entity"`
	TurnNumber    int            `json:"turnNumber"`
	ResourcesUsed map[string]int `json:"resourcesUsed,omitempty"`
}

type PausedTurn struct {
	Entity     string `json:"entity"`
	TurnNumber int    `json:"turnNumber"`
}

// DMEntity is the turn entity used when a session starts in DM mode.
const DMEntity = "dm"

type MapState struct {
	CurrentMapID string              `json:"currentMapId,omitempty"`
	Tokens       map[string]MapToken `json:"tokens,omitempty"`
}

type MapToken struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Status    string    `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Activity entry types
const (
	ActivityTypeGameCreated = "game:created"
	ActivityTypeGameStarted = "game:started"
	ActivityTypePlayerJoin  = "player:joined"
	ActivityTypeTokenMoved  = "token:moved"
	ActivityTypeNarration   = "narration"
)

// ActivityEntry is one committed line of the append-only audit trail.
type ActivityEntry struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	ActorID     string          `json:"actorId"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// StartState seeds turn, map and log fields when the host starts the game.
type StartState struct {
	DMMode          bool                `json:"dmMode"`
	InitiativeOrder []string            `json:"initiativeOrder,omitempty"`
	CurrentMapID    string              `json:"currentMapId,omitempty"`
	Tokens          map[string]MapToken `json:"tokens,omitempty"`
	Narration       string              `json:"narration,omitempty"`
}

// Clone returns a deep copy of the state. Commands mutate the copy and the
// actor swaps it in only after the durable write succeeds.
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	out := *g

	out.Players = make([]Player, len(g.Players))
	copy(out.Players, g.Players)
	for i, p := range out.Players {
		out.Players[i].Character.Stats = cloneIntMap(p.Character.Stats)
		out.Players[i].Character.Extras = cloneAnyMap(p.Character.Extras)
	}

	if g.Turn.Active != nil {
		active := *g.Turn.Active
		active.ResourcesUsed = cloneIntMap(g.Turn.Active.ResourcesUsed)
		out.Turn.Active = &active
	}
	if g.Turn.Paused != nil {
		paused := *g.Turn.Paused
		out.Turn.Paused = &paused
	}
	out.Turn.InitiativeOrder = append([]string(nil), g.Turn.InitiativeOrder...)

	if g.Map.Tokens != nil {
		out.Map.Tokens = make(map[string]MapToken, len(g.Map.Tokens))
		for id, tok := range g.Map.Tokens {
			out.Map.Tokens[id] = tok
		}
	}

	out.ActivityLog = make([]ActivityEntry, len(g.ActivityLog))
	copy(out.ActivityLog, g.ActivityLog)

	return &out
}

// FindPlayer matches a roster entry by player id or, failing that, by email.
func (g *GameState) FindPlayer(playerID, playerEmail string) *Player {
	for i := range g.Players {
		if g.Players[i].PlayerID == playerID {
			return &g.Players[i]
		}
	}
	if playerEmail != "" {
		for i := range g.Players {
			if g.Players[i].PlayerEmail == playerEmail {
				return &g.Players[i]
			}
		}
	}
	return nil
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
