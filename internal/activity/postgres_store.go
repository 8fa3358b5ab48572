package activity

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/auditoryx/booking-core/internal/pagination"
)

// PostgresStore persists activity entries in PostgreSQL.
// The activity_log table has no UPDATE or DELETE path.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed activity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, user_id, booking_id, event_type, detail, metadata, points, created_at`

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	metadataJSON, _ := json.Marshal(e.Metadata)
	if e.Metadata == nil {
		metadataJSON = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, user_id, booking_id, event_type, detail, metadata, points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, nullString(e.BookingID), e.EventType,
		nullString(e.Detail), metadataJSON, e.Points, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+entryColumns+`
			FROM activity_log
			WHERE user_id = $1
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, before.CreatedAt, before.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+entryColumns+`
			FROM activity_log
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) ListByBooking(ctx context.Context, bookingID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM activity_log
		WHERE booking_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, bookingID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) PointsTotal(ctx context.Context, userID string) (int, error) {
	var total int
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM activity_log WHERE user_id = $1`, userID,
	).Scan(&total)
	return total, err
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var (
			bookingID    sql.NullString
			detail       sql.NullString
			metadataJSON []byte
		)
		if err := rows.Scan(
			&e.ID, &e.UserID, &bookingID, &e.EventType,
			&detail, &metadataJSON, &e.Points, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.BookingID = bookingID.String
		e.Detail = detail.String
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
