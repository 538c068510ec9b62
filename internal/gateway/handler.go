package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	apperrors "github.com/questline/session-server-go/internal/errors"
	"github.com/questline/session-server-go/internal/httputil"
	"github.com/questline/session-server-go/internal/invite"
	"github.com/questline/session-server-go/internal/middleware"
	"github.com/questline/session-server-go/internal/model"
	"github.com/questline/session-server-go/internal/service"
	"github.com/questline/session-server-go/internal/session"
	"github.com/questline/session-server-go/internal/util"
)

// Application close codes, in the private range left open by RFC 6455.
const (
	CloseUnauthorized = 4401
	CloseNotFound     = 4404
)

// Handler terminates websocket connections for game sessions and exposes
// the privileged server-to-server trigger on the same route.
type Handler struct {
	registry    *session.Registry
	hub         *Hub
	state       *service.StateService
	partySecret string
	upgrader    websocket.Upgrader
}

func NewHandler(registry *session.Registry, hub *Hub, state *service.StateService, partySecret string) *Handler {
	return &Handler{
		registry:    registry,
		hub:         hub,
		state:       state,
		partySecret: partySecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Game clients connect from arbitrary origins; the credential
			// check is the gate, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{room}", h.ServeWS)
	r.Post("/{room}", h.Trigger)
	return r
}

// ServeWS upgrades the connection, authenticates it, attaches it to the
// session's fan-out set and pushes the current state snapshot. Auth and
// lookup failures are reported in-band with an error frame before the
// close frame, because browser websocket APIs hide HTTP error bodies.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := invite.Normalize(invite.Resolve(chi.URLParam(r, "room")))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("inviteCode", util.MaskCode(code)).Msg("websocket upgrade failed")
		return
	}

	principal, err := middleware.ParseCredential(middleware.ExtractToken(r))
	if err != nil {
		h.rejectConn(conn, CloseUnauthorized, "Missing or invalid credential", "")
		return
	}

	if !invite.IsValid(code) {
		h.rejectConn(conn, CloseNotFound, "Game not found", code)
		return
	}

	actor, err := h.registry.Get(r.Context(), code)
	if err != nil {
		h.rejectConn(conn, CloseNotFound, "Game not found", code)
		return
	}
	if !actor.Initialized() {
		// Don't let probes for nonexistent codes pile up empty actors.
		h.registry.Evict(code)
		h.rejectConn(conn, CloseNotFound, "Game not found", code)
		return
	}

	// Bare connect: attach without touching the roster. Membership only
	// changes on an explicit join frame.
	if _, err := actor.Join(r.Context(), session.JoinParams{
		PlayerID:    principal.ID,
		PlayerEmail: principal.Email,
	}); err != nil {
		log.Warn().Err(err).
			Str("inviteCode", util.MaskCode(code)).
			Str("playerId", principal.ID).
			Msg("bare connect rejected")
	}

	client := NewClient(h.hub, conn, code, principal.ID, principal.Email)
	if member := actor.Member(principal.ID, principal.Email); member != nil {
		client.CharacterID = member.CharacterID
	}

	h.hub.Register(client)
	go client.WritePump()

	if state := actor.Snapshot(); state != nil {
		if err := client.Send(model.NewStateMessage("", h.state.View(state))); err != nil {
			log.Warn().Err(err).Str("inviteCode", util.MaskCode(code)).Msg("initial state frame dropped")
		}
	}

	h.hub.BroadcastExcept(r.Context(), code, client.ID,
		model.NewPresenceMessage(principal.ID, client.ConnectedAt.Unix()))

	client.ReadPump(h.dispatch)
}

// rejectConn sends a descriptive error frame, then the close frame. The
// deadline bounds how long a stalled peer can hold the goroutine.
func (h *Handler) rejectConn(conn *websocket.Conn, closeCode int, message, inviteCode string) {
	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	conn.WriteJSON(model.NewErrorMessage(message, inviteCode))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, message), deadline)
	conn.Close()
}

// dispatch routes one inbound frame. Bad frames answer with an error frame
// and leave the connection open.
func (h *Handler) dispatch(c *Client, data []byte) {
	ctx := h.hub.ctx

	var msg model.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Send(model.NewErrorMessage("Malformed message", c.InviteCode))
		return
	}

	actor, err := h.registry.Get(ctx, c.InviteCode)
	if err != nil {
		c.Send(model.NewErrorMessage("Game not found", c.InviteCode))
		return
	}

	switch msg.Type {
	case model.MessageTypeJoin:
		email := c.PlayerEmail
		if msg.PlayerEmail != nil {
			email = *msg.PlayerEmail
		}
		if _, err := actor.Join(ctx, session.JoinParams{
			PlayerID:    c.PlayerID,
			PlayerEmail: email,
			Character: &session.JoinCharacter{
				CharacterID:   msg.CharacterID,
				CharacterName: msg.CharacterName,
			},
		}); err != nil {
			c.Send(model.NewErrorMessage(errMessage(err), c.InviteCode))
			return
		}
		if member := actor.Member(c.PlayerID, email); member != nil {
			c.CharacterID = member.CharacterID
		}

	case model.MessageTypePing:
		c.Send(model.PongMessage{Type: model.MessageTypePong, Message: msg.Message})

	case model.MessageTypeMoveToken:
		if err := actor.MoveToken(ctx, msg.TokenID, msg.X, msg.Y, c.PlayerID); err != nil {
			c.Send(model.NewErrorMessage(errMessage(err), c.InviteCode))
		}

	default:
		c.Send(model.NewErrorMessage("Unknown message type: "+msg.Type, c.InviteCode))
	}
}

// Trigger lets a trusted peer service force a state re-broadcast to every
// connection of the session. Guarded by the shared party secret; an
// unconfigured secret rejects everything.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("x-party-secret")
	if secret == "" {
		secret = middleware.ExtractToken(r)
	}

	if h.partySecret == "" || !util.ConstantTimeEqual(secret, h.partySecret) {
		log.Warn().Str("path", r.URL.Path).Msg("trigger rejected: bad party secret")
		httputil.WriteJSON(w, http.StatusForbidden, map[string]any{"ok": false})
		return
	}

	code := invite.Normalize(invite.Resolve(chi.URLParam(r, "room")))
	if !invite.IsValid(code) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}

	actor, err := h.registry.Get(r.Context(), code)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}
	if !actor.Initialized() {
		h.registry.Evict(code)
		httputil.WriteJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}

	state := actor.Snapshot()
	h.hub.Broadcast(r.Context(), code,
		model.NewStateMessage(model.EventGameStateUpdate, h.state.View(state)))

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func errMessage(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Message
	}
	return "Internal error"
}
