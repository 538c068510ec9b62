package model

import "encoding/json"

// Inbound frame types (client -> gateway)
const (
	MessageTypeJoin      = "join"
	MessageTypePing      = "ping"
	MessageTypeMoveToken = "move-token"
)

// Outbound frame types (gateway -> client)
const (
	MessageTypeState    = "state"
	MessageTypePresence = "presence"
	MessageTypePong     = "pong"
	MessageTypeError    = "error"
)

// Broadcast event types carried in the state envelope
const (
	EventPlayerJoined    = "player_joined"
	EventGameStateUpdate = "game_state_update"
	EventPlayerAction    = "player_action"
	EventDMAction        = "dm_action"
)

// InboundMessage is the raw client frame; Type discriminates, the rest is
// decoded per-type by the gateway.
type InboundMessage struct {
	Type          string  `json:"type"`
	CharacterID   string  `json:"characterId,omitempty"`
	CharacterName string  `json:"characterName,omitempty"`
	PlayerEmail   *string `json:"playerEmail,omitempty"`
	Message       string  `json:"message,omitempty"`
	TokenID       string  `json:"tokenId,omitempty"`
	X             float64 `json:"x,omitempty"`
	Y             float64 `json:"y,omitempty"`
}

type StateMessage struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	State any    `json:"state"`
}

type PresenceMessage struct {
	Type        string `json:"type"`
	PlayerID    string `json:"playerId"`
	ConnectedAt int64  `json:"connectedAt"`
}

type PongMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type ErrorMessage struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	InviteCode string `json:"inviteCode,omitempty"`
}

func NewStateMessage(event string, state any) StateMessage {
	return StateMessage{Type: MessageTypeState, Event: event, State: state}
}

func NewPresenceMessage(playerID string, connectedAt int64) PresenceMessage {
	return PresenceMessage{Type: MessageTypePresence, PlayerID: playerID, ConnectedAt: connectedAt}
}

func NewErrorMessage(message, inviteCode string) ErrorMessage {
	return ErrorMessage{Type: MessageTypeError, Message: message, InviteCode: inviteCode}
}

// DMActionType enumerates the host-only narrative commands. Unknown types
// are accepted and ignored for forward compatibility.
type DMActionType string

const (
	DMActionNarrate         DMActionType = "narrate"
	DMActionUpdateCharacter DMActionType = "updateCharacter"
	DMActionAdvanceStory    DMActionType = "advanceStory"
)

// UpdateCharacterData is the payload of a dm updateCharacter action.
type UpdateCharacterData struct {
	PlayerID      string          `json:"playerId"`
	CharacterName string          `json:"characterName,omitempty"`
	Class         string          `json:"class,omitempty"`
	Level         *int            `json:"level,omitempty"`
	Stats         map[string]int  `json:"stats,omitempty"`
	Extras        json.RawMessage `json:"extras,omitempty"`
}
