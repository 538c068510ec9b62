package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/questline/session-server-go/internal/errors"
	"github.com/questline/session-server-go/internal/model"
)

type GameRepository interface {
	FindByInviteCode(ctx context.Context, inviteCode string) (*model.GameState, error)
	// Save is a full-state overwrite. The stored version must be exactly
	// one behind the saved state; anything else is a stale write.
	Save(ctx context.Context, state *model.GameState) error
	Delete(ctx context.Context, inviteCode string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) GameRepository
}

// gameDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type gameDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type gameRow struct {
	InviteCode string          `db:"invite_code"`
	State      json.RawMessage `db:"state"`
	Version    int64           `db:"version"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

type gameRepo struct {
	db gameDB
}

func NewGameRepository(db *sqlx.DB) GameRepository {
	return &gameRepo{db: db}
}

func (r *gameRepo) WithTx(tx *sqlx.Tx) GameRepository {
	return &gameRepo{db: tx}
}

func (r *gameRepo) FindByInviteCode(ctx context.Context, inviteCode string) (*model.GameState, error) {
	var row gameRow
	err := r.db.GetContext(ctx, &row, `
		SELECT invite_code, state, version, updated_at FROM games WHERE invite_code = $1
	`, inviteCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state model.GameState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "corrupt game state", err)
	}
	return &state, nil
}

func (r *gameRepo) Save(ctx context.Context, state *model.GameState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "marshal game state", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO games (invite_code, state, version, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (invite_code) DO UPDATE SET
			state = EXCLUDED.state,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE games.version = EXCLUDED.version - 1
	`, state.InviteCode, doc, state.Version, state.LastUpdated)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.Conflict("stale write: game state version mismatch")
	}
	return nil
}

func (r *gameRepo) Delete(ctx context.Context, inviteCode string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM games WHERE invite_code = $1
	`, inviteCode)
	return err
}
