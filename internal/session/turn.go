package session

import (
	"context"
	"time"

	apperrors "github.com/questline/session-server-go/internal/errors"
	"github.com/questline/session-server-go/internal/model"
)

// The turn machine has exactly two states: Active and Paused. Richer combat
// sequencing is layered on top by collaborators reacting to action
// broadcasts; the actor only owns these two primitives.

// ResumeTurn transitions Paused -> Active. Host-only.
func (a *Actor) ResumeTurn(ctx context.Context, hostID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return apperrors.NotFound("Game")
	}
	if hostID != a.state.HostID {
		return apperrors.Forbidden("Only the host can resume the turn")
	}
	if a.state.Status != model.GameStatusActive {
		return apperrors.GameNotActive()
	}
	if a.state.Turn.Paused == nil {
		return apperrors.Conflict("Turn is not paused")
	}

	next := a.state.Clone()
	paused := next.Turn.Paused
	next.Turn.Active = &model.ActiveTurn{
		Entity:     paused.Entity,
		TurnNumber: paused.TurnNumber,
	}
	next.Turn.Paused = nil
	bumpVersion(next)

	if err := a.commit(ctx, next, model.ActivityEntry{}); err != nil {
		return err
	}

	a.broadcast(ctx, model.EventGameStateUpdate)
	return nil
}

// PauseTurn transitions Active -> Paused, either because the host
// interrupts or because the entity's turn resources are exhausted.
func (a *Actor) PauseTurn(ctx context.Context, hostID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActive = time.Now()

	if a.state == nil {
		return apperrors.NotFound("Game")
	}
	if hostID != a.state.HostID {
		return apperrors.Forbidden("Only the host can pause the turn")
	}
	if a.state.Status != model.GameStatusActive {
		return apperrors.GameNotActive()
	}
	if a.state.Turn.Active == nil {
		return apperrors.Conflict("Turn is not active")
	}

	next := a.state.Clone()
	active := next.Turn.Active
	next.Turn.Paused = &model.PausedTurn{
		Entity:     active.Entity,
		TurnNumber: active.TurnNumber,
	}
	next.Turn.Active = nil
	bumpVersion(next)

	if err := a.commit(ctx, next, model.ActivityEntry{}); err != nil {
		return err
	}

	a.broadcast(ctx, model.EventGameStateUpdate)
	return nil
}
