package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/registry-indexer/internal/models"
)

// EventRepository handles the append-only event log
type EventRepository struct {
	db *PostgresDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *PostgresDB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertEvent records an event with insert-or-ignore semantics on the
// transaction signature. Returns false when the signature was already stored,
// which is expected under reprocessing and never an error.
func (r *EventRepository) InsertEvent(ctx context.Context, event *models.Event) (bool, error) {
	query := `
		INSERT INTO events (event_type, package_name, version, transaction_signature, slot, block_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_signature) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		event.EventType,
		event.PackageName,
		event.Version,
		event.TransactionSignature,
		int64(event.Slot),
		event.BlockTime,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const eventColumns = `id, event_type, package_name, version, transaction_signature, slot, block_time`

// RecentEvents lists events by slot descending
func (r *EventRepository) RecentEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY slot DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// PackageEvents lists events for one package by slot descending
func (r *EventRepository) PackageEvents(ctx context.Context, packageName string, limit, offset int) ([]*models.Event, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE package_name = $1
		ORDER BY slot DESC, id DESC
		LIMIT $2 OFFSET $3
	`, packageName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for package %s: %w", packageName, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var event models.Event
		var slot int64
		err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.PackageName,
			&event.Version,
			&event.TransactionSignature,
			&slot,
			&event.BlockTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Slot = uint64(slot)
		events = append(events, &event)
	}
	return events, rows.Err()
}
