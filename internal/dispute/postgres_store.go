package dispute

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists disputes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const disputeColumns = `id, booking_id, opened_by, reason, status,
		       resolution, resolved_by, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, booking_id, opened_by, reason, status,
			resolution, resolved_by, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.BookingID, d.OpenedBy, d.Reason, string(d.Status),
		nullString(d.Resolution), nullString(d.ResolvedBy), d.CreatedAt, nullTime(d.ResolvedAt),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// unique_violation on the open-dispute partial index:
			// a concurrent open won the race.
			return ErrDisputeExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetOpenByBooking(ctx context.Context, bookingID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE booking_id = $1 AND status = 'open'
		ORDER BY created_at DESC LIMIT 1`, bookingID)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolution = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $5`,
		string(d.Status), nullString(d.Resolution), nullString(d.ResolvedBy),
		nullTime(d.ResolvedAt), d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) ListByBooking(ctx context.Context, bookingID string) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE booking_id = $1
		ORDER BY created_at DESC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDisputes(rows)
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status = 'open'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDisputes(rows)
}

func collectDisputes(rows *sql.Rows) ([]*Dispute, error) {
	var out []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDispute(row scanner) (*Dispute, error) {
	var (
		d          Dispute
		status     string
		resolution sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.BookingID, &d.OpenedBy, &d.Reason, &status,
		&resolution, &resolvedBy, &d.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.Resolution = resolution.String
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime converts a nil *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
