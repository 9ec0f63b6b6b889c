package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"signaling-backend/internal/domain"
)

const callHistorySchema = `
	CREATE TABLE IF NOT EXISTS call_history (
		call_id      STRING PRIMARY KEY,
		caller_id    STRING NOT NULL,
		callee_id    STRING NOT NULL,
		call_type    STRING NOT NULL,
		end_reason   STRING NOT NULL,
		ended_by     STRING,
		started_at   TIMESTAMPTZ NOT NULL,
		connected_at TIMESTAMPTZ,
		ended_at     TIMESTAMPTZ NOT NULL,
		duration     INT NOT NULL DEFAULT 0
	)
`

// CallRepository writes finished calls to the history table
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// EnsureSchema creates the history table if it does not exist
func (r *CallRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, callHistorySchema); err != nil {
		return fmt.Errorf("failed to create call_history: %w", err)
	}
	return nil
}

// Record inserts one ended call. Replays of the same call id are ignored.
func (r *CallRepository) Record(ctx context.Context, rec domain.CallRecord) error {
	query := `
		INSERT INTO call_history (
			call_id, caller_id, callee_id, call_type, end_reason, ended_by,
			started_at, connected_at, ended_at, duration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (call_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, historyArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}

	return nil
}

// historyArgs maps a record onto the insert placeholders
func historyArgs(rec domain.CallRecord) []any {
	var endedBy *string
	if rec.EndedBy != "" {
		endedBy = &rec.EndedBy
	}
	return []any{
		rec.CallID,
		rec.CallerID,
		rec.CalleeID,
		string(rec.CallType),
		string(rec.EndReason),
		endedBy,
		rec.StartedAt,
		rec.ConnectedAt,
		rec.EndedAt,
		int(rec.Duration().Seconds()),
	}
}
