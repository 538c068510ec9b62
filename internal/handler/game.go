package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/questline/session-server-go/internal/audit"
	apperrors "github.com/questline/session-server-go/internal/errors"
	"github.com/questline/session-server-go/internal/invite"
	"github.com/questline/session-server-go/internal/middleware"
	"github.com/questline/session-server-go/internal/model"
	"github.com/questline/session-server-go/internal/service"
	"github.com/questline/session-server-go/internal/session"
	"github.com/questline/session-server-go/internal/util"
)

// GameHandler is the HTTP command surface. Every mutation funnels into the
// session actor; the handler only decodes, authorizes the caller identity
// and shapes the response.
type GameHandler struct {
	registry *session.Registry
	state    *service.StateService
}

func NewGameHandler(registry *session.Registry, state *service.StateService) *GameHandler {
	return &GameHandler{registry: registry, state: state}
}

func (h *GameHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/{code}", h.Get)
	r.Delete("/{code}", h.Delete)
	r.Post("/{code}/join", h.Join)
	r.Post("/{code}/start", h.Start)
	r.Post("/{code}/actions", h.PlayerAction)
	r.Post("/{code}/dm", h.DMAction)
	r.Post("/{code}/tokens/{tokenID}/move", h.MoveToken)
	r.Post("/{code}/turn/pause", h.PauseTurn)
	r.Post("/{code}/turn/resume", h.ResumeTurn)

	return r
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (*middleware.Principal, bool) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return nil, false
	}
	return principal, true
}

// resolveActor looks up the actor behind the {code} path segment. Unknown
// or uninitialized codes read as 404 and never leave an empty actor in the
// registry.
func (h *GameHandler) resolveActor(w http.ResponseWriter, r *http.Request) (*session.Actor, bool) {
	code := invite.Normalize(invite.Resolve(chi.URLParam(r, "code")))
	if !invite.IsValid(code) {
		writeError(w, apperrors.NotFound("Game"))
		return nil, false
	}

	actor, err := h.registry.Get(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Str("inviteCode", util.MaskCode(code)).Msg("failed to load session")
		writeError(w, err)
		return nil, false
	}
	if !actor.Initialized() {
		h.registry.Evict(code)
		writeError(w, apperrors.NotFound("Game"))
		return nil, false
	}

	return actor, true
}

// POST /v1/games
func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req struct {
		InviteCode   string          `json:"inviteCode"`
		Quest        json.RawMessage `json:"quest"`
		World        json.RawMessage `json:"world"`
		StartingArea string          `json:"startingArea"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidPayload("Invalid request body"))
		return
	}

	code := invite.Normalize(invite.Resolve(req.InviteCode))
	if code == "" {
		generated, err := util.GenerateInviteCode()
		if err != nil {
			writeError(w, apperrors.Internal("Failed to generate invite code"))
			return
		}
		code = generated
	}
	if !invite.IsValid(code) {
		writeError(w, apperrors.InvalidPayload("Invalid invite code"))
		return
	}

	actor, err := h.registry.Get(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}

	state, err := actor.Initialize(r.Context(), session.InitializeParams{
		HostID:       principal.ID,
		Quest:        req.Quest,
		World:        req.World,
		StartingArea: req.StartingArea,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventGameCreate,
		PlayerID:   principal.ID,
		InviteCode: code,
	})

	writeJSON(w, http.StatusCreated, formatGame(h.state.View(state)))
}

// GET /v1/games/{code}
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	state := actor.Snapshot()
	response := formatGame(h.state.View(state))
	response["roster"] = formatRoster(state)
	writeJSON(w, http.StatusOK, response)
}

// DELETE /v1/games/{code}
func (h *GameHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	code := actor.InviteCode()
	if err := actor.Delete(r.Context(), principal.ID); err != nil {
		writeError(w, err)
		return
	}
	h.registry.Evict(code)

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventGameDelete,
		PlayerID:   principal.ID,
		InviteCode: code,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// POST /v1/games/{code}/join
func (h *GameHandler) Join(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	var req struct {
		CharacterID   string `json:"characterId"`
		CharacterName string `json:"characterName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidPayload("Invalid request body"))
		return
	}

	state, err := actor.Join(r.Context(), session.JoinParams{
		PlayerID:    principal.ID,
		PlayerEmail: principal.Email,
		Character: &session.JoinCharacter{
			CharacterID:   req.CharacterID,
			CharacterName: req.CharacterName,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventPlayerJoin,
		PlayerID:   principal.ID,
		InviteCode: actor.InviteCode(),
	})

	writeJSON(w, http.StatusOK, formatGame(h.state.View(state)))
}

// POST /v1/games/{code}/start
func (h *GameHandler) Start(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	var initial model.StartState
	if err := json.NewDecoder(r.Body).Decode(&initial); err != nil {
		writeError(w, apperrors.InvalidPayload("Invalid request body"))
		return
	}

	if err := actor.Start(r.Context(), principal.ID, &initial); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventGameStart,
		PlayerID:   principal.ID,
		InviteCode: actor.InviteCode(),
		Details:    map[string]interface{}{"dmMode": initial.DMMode},
	})

	writeJSON(w, http.StatusOK, formatGame(h.state.View(actor.Snapshot())))
}

// POST /v1/games/{code}/actions
func (h *GameHandler) PlayerAction(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	var req struct {
		CharacterID string          `json:"characterId"`
		Action      json.RawMessage `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidPayload("Invalid request body"))
		return
	}
	if len(req.Action) == 0 {
		writeError(w, apperrors.MissingRequired("action"))
		return
	}

	if err := actor.PlayerAction(r.Context(), principal.ID, req.CharacterID, req.Action); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

// POST /v1/games/{code}/dm
func (h *GameHandler) DMAction(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	var req struct {
		Type model.DMActionType `json:"type"`
		Data json.RawMessage    `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidPayload("Invalid request body"))
		return
	}
	if req.Type == "" {
		writeError(w, apperrors.MissingRequired("type"))
		return
	}

	if err := actor.DMAction(r.Context(), principal.ID, req.Type, req.Data); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatGame(h.state.View(actor.Snapshot())))
}

// POST /v1/games/{code}/tokens/{tokenID}/move
func (h *GameHandler) MoveToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	tokenID := chi.URLParam(r, "tokenID")
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidPayload("Invalid request body"))
		return
	}

	if err := actor.MoveToken(r.Context(), tokenID, req.X, req.Y, principal.ID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatGame(h.state.View(actor.Snapshot())))
}

// POST /v1/games/{code}/turn/pause
func (h *GameHandler) PauseTurn(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	if err := actor.PauseTurn(r.Context(), principal.ID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatGame(h.state.View(actor.Snapshot())))
}

// POST /v1/games/{code}/turn/resume
func (h *GameHandler) ResumeTurn(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	if err := actor.ResumeTurn(r.Context(), principal.ID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatGame(h.state.View(actor.Snapshot())))
}
