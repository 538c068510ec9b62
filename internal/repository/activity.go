package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/questline/session-server-go/internal/model"
)

type ActivityLogRepository interface {
	// Append adds one committed entry. The table is append-only: nothing
	// here updates or reorders existing rows.
	Append(ctx context.Context, inviteCode string, entry model.ActivityEntry) error
	ListByInviteCode(ctx context.Context, inviteCode string, limit int) ([]model.ActivityEntry, error)
	DeleteByInviteCode(ctx context.Context, inviteCode string) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ActivityLogRepository
}

type activityDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type activityRepo struct {
	db activityDB
}

func NewActivityLogRepository(db *sqlx.DB) ActivityLogRepository {
	return &activityRepo{db: db}
}

func (r *activityRepo) WithTx(tx *sqlx.Tx) ActivityLogRepository {
	return &activityRepo{db: tx}
}

func (r *activityRepo) Append(ctx context.Context, inviteCode string, entry model.ActivityEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO game_activity (invite_code, entry_id, type, actor_id, description, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inviteCode, entry.ID, entry.Type, entry.ActorID, entry.Description, nullableJSON(entry.Data), entry.Timestamp)
	return err
}

type activityRow struct {
	EntryID     string         `db:"entry_id"`
	Type        string         `db:"type"`
	ActorID     string         `db:"actor_id"`
	Description string         `db:"description"`
	Data        sql.NullString `db:"data"`
	CreatedAt   sql.NullTime   `db:"created_at"`
}

func (r *activityRepo) ListByInviteCode(ctx context.Context, inviteCode string, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []activityRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT entry_id, type, actor_id, description, data, created_at
		FROM game_activity
		WHERE invite_code = $1
		ORDER BY seq ASC
		LIMIT $2
	`, inviteCode, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]model.ActivityEntry, len(rows))
	for i, row := range rows {
		entries[i] = model.ActivityEntry{
			ID:          row.EntryID,
			Type:        row.Type,
			ActorID:     row.ActorID,
			Description: row.Description,
		}
		if row.Data.Valid {
			entries[i].Data = []byte(row.Data.String)
		}
		if row.CreatedAt.Valid {
			entries[i].Timestamp = row.CreatedAt.Time
		}
	}
	return entries, nil
}

func (r *activityRepo) DeleteByInviteCode(ctx context.Context, inviteCode string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM game_activity WHERE invite_code = $1
	`, inviteCode)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
