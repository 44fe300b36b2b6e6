package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/registry-indexer/internal/models"
	"github.com/registry-indexer/internal/types"
)

// StateRepository manages the singleton indexer_state row the scan worker
// resumes from after a restart.
type StateRepository struct {
	db *PostgresDB
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *PostgresDB) *StateRepository {
	return &StateRepository{db: db}
}

// LastProcessedSlot returns the persisted cursor. A fresh installation
// returns 0.
func (r *StateRepository) LastProcessedSlot(ctx context.Context) (uint64, error) {
	var slot int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT last_processed_slot FROM indexer_state WHERE id = 1`,
	).Scan(&slot)
	if err != nil {
		return 0, fmt.Errorf("failed to read last processed slot: %w", err)
	}
	if slot < 0 {
		slot = 0
	}
	return uint64(slot), nil
}

// SaveLastProcessedSlot advances the cursor. Called only after the slot's
// events are durably stored; the cursor never moves backwards.
func (r *StateRepository) SaveLastProcessedSlot(ctx context.Context, slot uint64, processedAt *time.Time) error {
	if processedAt == nil {
		now := time.Now().UTC()
		processedAt = &now
	}

	_, err := r.db.Pool().Exec(ctx, `
		UPDATE indexer_state
		SET last_processed_slot = GREATEST(last_processed_slot, $1),
			last_processed_time = $2,
			status = $3,
			updated_at = NOW()
		WHERE id = 1
	`, int64(slot), processedAt, types.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to save last processed slot: %w", err)
	}
	return nil
}

// RecordError increments the persisted error counter and stores the latest
// diagnostic for observability. Per-slot failures are recorded here without
// stalling the cursor.
func (r *StateRepository) RecordError(ctx context.Context, message string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE indexer_state
		SET error_count = error_count + 1,
			last_error = $1,
			updated_at = NOW()
		WHERE id = 1
	`, message)
	if err != nil {
		return fmt.Errorf("failed to record indexer error: %w", err)
	}
	return nil
}

// SetStatus updates the persisted worker status
func (r *StateRepository) SetStatus(ctx context.Context, status types.IndexerStatus) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE indexer_state SET status = $1, updated_at = NOW() WHERE id = 1`,
		status,
	)
	if err != nil {
		return fmt.Errorf("failed to set indexer status: %w", err)
	}
	return nil
}

// GetState returns the full indexer state row
func (r *StateRepository) GetState(ctx context.Context) (*models.IndexerState, error) {
	var state models.IndexerState
	var slot int64
	err := r.db.Pool().QueryRow(ctx, `
		SELECT last_processed_slot, last_processed_time, status, error_count, last_error
		FROM indexer_state
		WHERE id = 1
	`).Scan(&slot, &state.LastProcessedTime, &state.Status, &state.ErrorCount, &state.LastError)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexer state: %w", err)
	}
	if slot > 0 {
		state.LastProcessedSlot = uint64(slot)
	}
	return &state, nil
}
