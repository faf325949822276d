package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// InsertPriceSnapshots batch-inserts price rows. Re-archiving an already
// copied point is a no-op.
func (s *Store) InsertPriceSnapshots(ctx context.Context, snaps []types.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, snap := range snaps {
		_, err = tx.Exec(ctx, `
			INSERT INTO price_snapshots (pool_id, price, captured_at, source_id, quality)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (pool_id, captured_at) DO NOTHING
		`, snap.PoolID, snap.Price, snap.CapturedAt, snap.SourceID, string(snap.Quality))
		if err != nil {
			return fmt.Errorf("insert price snapshot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpsertCommand upserts a terminal command into the commands table.
func (s *Store) UpsertCommand(ctx context.Context, cmd types.Command) error {
	payloadJSON, err := json.Marshal(cmd.Payload)
	if err != nil {
		return fmt.Errorf("marshal command payload: %w", err)
	}
	resultJSON, err := json.Marshal(cmd.ExecutionResult)
	if err != nil {
		return fmt.Errorf("marshal execution result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO commands (id, agent_id, client_id, command_type, priority, status,
			created_by, trigger_type, payload, execution_result, error_message,
			retry_recommended, created_at, executed_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status            = EXCLUDED.status,
			execution_result  = EXCLUDED.execution_result,
			error_message     = EXCLUDED.error_message,
			retry_recommended = EXCLUDED.retry_recommended,
			executed_at       = EXCLUDED.executed_at,
			completed_at      = EXCLUDED.completed_at,
			archived_at       = NOW()
	`, cmd.ID, cmd.AgentID, cmd.ClientID, cmd.Type, cmd.Priority, string(cmd.Status),
		cmd.CreatedBy, string(cmd.Trigger), payloadJSON, resultJSON, cmd.ErrorMessage,
		cmd.RetryRecommended, cmd.CreatedAt, cmd.ExecutedAt, cmd.CompletedAt)
	return err
}

// InsertEvents batch-inserts audit events.
func (s *Store) InsertEvents(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ev := range events {
		detailsJSON, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO events (kind, agent_id, pool_id, command_id, status, message, details, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, string(ev.Kind), ev.AgentID, ev.PoolID, ev.CommandID, ev.Status, ev.Message, detailsJSON, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetCursor retrieves an archive cursor. A missing cursor reads as the zero
// time so the first cycle archives from the beginning.
func (s *Store) GetCursor(ctx context.Context, dataType, key string) (time.Time, error) {
	var cursor time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT cursor_value FROM archive_cursors
		WHERE data_type = $1 AND key = $2
	`, dataType, key).Scan(&cursor)
	if err != nil {
		// pgx returns an error for no rows
		return time.Time{}, nil
	}
	return cursor, nil
}

// SetCursor sets an archive cursor.
func (s *Store) SetCursor(ctx context.Context, dataType, key string, cursor time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO archive_cursors (data_type, key, cursor_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (data_type, key) DO UPDATE SET
			cursor_value = EXCLUDED.cursor_value,
			updated_at   = NOW()
	`, dataType, key, cursor)
	return err
}
