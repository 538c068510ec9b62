package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/questline/session-server-go/internal/database"
	"github.com/questline/session-server-go/internal/model"
)

// GameStore bundles the get/put/append primitives the session actor needs.
// It is the sole recovery path after an actor restart.
type GameStore struct {
	db       *database.DB
	games    GameRepository
	activity ActivityLogRepository
}

func NewGameStore(db *database.DB, games GameRepository, activity ActivityLogRepository) *GameStore {
	return &GameStore{
		db:       db,
		games:    games,
		activity: activity,
	}
}

func (s *GameStore) Load(ctx context.Context, inviteCode string) (*model.GameState, error) {
	return s.games.FindByInviteCode(ctx, inviteCode)
}

func (s *GameStore) Save(ctx context.Context, state *model.GameState) error {
	return s.games.Save(ctx, state)
}

func (s *GameStore) AppendLog(ctx context.Context, inviteCode string, entry model.ActivityEntry) error {
	return s.activity.Append(ctx, inviteCode, entry)
}

// Delete purges the session state together with its activity log; both go
// or neither does.
func (s *GameStore) Delete(ctx context.Context, inviteCode string) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.activity.WithTx(tx).DeleteByInviteCode(ctx, inviteCode); err != nil {
			return err
		}
		return s.games.WithTx(tx).Delete(ctx, inviteCode)
	})
}
