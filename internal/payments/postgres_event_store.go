package payments

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresEventStore records processed webhook event IDs in PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a PostgreSQL-backed processed-event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (p *PostgresEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_webhook_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	return exists, err
}

func (p *PostgresEventStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, processed_at)
		VALUES ($1, NOW())`, eventID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// unique_violation: already processed
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ ProcessedEventStore = (*PostgresEventStore)(nil)
