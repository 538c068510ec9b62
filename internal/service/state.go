package service

import (
	"context"

	"github.com/questline/session-server-go/internal/model"
	"github.com/questline/session-server-go/internal/session"
)

// ClientView is the denormalized snapshot sent to connected clients. It is
// assembled from a single committed state, never stitched from partial
// reads.
type ClientView struct {
	*model.GameState
	PlayerCount  int    `json:"playerCount"`
	ActiveEntity string `json:"activeEntity,omitempty"`
	TurnPaused   bool   `json:"turnPaused"`
}

// StateService builds client-facing projections of session state.
type StateService struct{}

func NewStateService() *StateService {
	return &StateService{}
}

// View projects one committed state into the shape clients consume.
func (s *StateService) View(state *model.GameState) *ClientView {
	if state == nil {
		return nil
	}

	view := &ClientView{
		GameState:   state,
		PlayerCount: len(state.Players),
	}

	switch {
	case state.Turn.Active != nil:
		view.ActiveEntity = state.Turn.Active.Entity
	case state.Turn.Paused != nil:
		view.ActiveEntity = state.Turn.Paused.Entity
		view.TurnPaused = true
	}

	return view
}

// StateBroadcaster sits between the session actors and the gateway hub,
// swapping raw state payloads for client views before fan-out. Every other
// message passes through untouched.
type StateBroadcaster struct {
	service *StateService
	next    session.Broadcaster
}

func NewStateBroadcaster(service *StateService, next session.Broadcaster) *StateBroadcaster {
	return &StateBroadcaster{service: service, next: next}
}

func (b *StateBroadcaster) Broadcast(ctx context.Context, inviteCode string, message any) {
	if stateMsg, ok := message.(model.StateMessage); ok {
		if state, ok := stateMsg.State.(*model.GameState); ok {
			stateMsg.State = b.service.View(state)
			b.next.Broadcast(ctx, inviteCode, stateMsg)
			return
		}
	}
	b.next.Broadcast(ctx, inviteCode, message)
}
