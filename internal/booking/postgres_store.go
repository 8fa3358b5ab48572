package booking

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists bookings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed booking store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bookingColumns = `id, client_id, provider_id, service_id, total_amount, currency,
		       scheduled_at, status, payout_status, revisions_remaining,
		       payment_intent_id, checkout_session_id,
		       auto_release_at, released_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings (
			id, client_id, provider_id, service_id, total_amount, currency,
			scheduled_at, status, payout_status, revisions_remaining,
			payment_intent_id, checkout_session_id,
			auto_release_at, released_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16
		)`,
		b.ID, b.ClientID, b.ProviderID, nullString(b.ServiceID), b.TotalAmount, b.Currency,
		b.ScheduledAt, string(b.Status), string(b.PayoutStatus), b.RevisionsRemaining,
		nullString(b.PaymentIntentID), nullString(b.CheckoutSessionID),
		b.AutoReleaseAt, nullTime(b.ReleasedAt), b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func (p *PostgresStore) Update(ctx context.Context, b *Booking) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET
			status = $1, payout_status = $2, revisions_remaining = $3,
			payment_intent_id = $4, checkout_session_id = $5,
			released_at = $6, updated_at = $7
		WHERE id = $8`,
		string(b.Status), string(b.PayoutStatus), b.RevisionsRemaining,
		nullString(b.PaymentIntentID), nullString(b.CheckoutSessionID),
		nullTime(b.ReleasedAt), b.UpdatedAt,
		b.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// UpdateIf applies the update only when the persisted row still has
// fromStatus and has not already been released. Zero rows affected
// means a concurrent transition won the race.
func (p *PostgresStore) UpdateIf(ctx context.Context, b *Booking, fromStatus Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET
			status = $1, payout_status = $2, revisions_remaining = $3,
			payment_intent_id = $4, checkout_session_id = $5,
			released_at = $6, updated_at = $7
		WHERE id = $8
		  AND status = $9
		  AND payout_status != 'released'`,
		string(b.Status), string(b.PayoutStatus), b.RevisionsRemaining,
		nullString(b.PaymentIntentID), nullString(b.CheckoutSessionID),
		nullTime(b.ReleasedAt), b.UpdatedAt,
		b.ID, string(fromStatus),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish missing from stale.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, b.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrBookingNotFound
		}
		return ErrStaleTransition
	}
	return nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE client_id = $1 OR provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBookings(rows)
}

func (p *PostgresStore) ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('held', 'completed')
		  AND payout_status = 'held'
		  AND auto_release_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBookings(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s scanner) (*Booking, error) {
	b := &Booking{}
	var (
		serviceID       sql.NullString
		status          string
		payoutStatus    string
		paymentIntentID sql.NullString
		checkoutSession sql.NullString
		releasedAt      sql.NullTime
	)

	err := s.Scan(
		&b.ID, &b.ClientID, &b.ProviderID, &serviceID, &b.TotalAmount, &b.Currency,
		&b.ScheduledAt, &status, &payoutStatus, &b.RevisionsRemaining,
		&paymentIntentID, &checkoutSession,
		&b.AutoReleaseAt, &releasedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = Status(status)
	b.PayoutStatus = PayoutStatus(payoutStatus)
	b.ServiceID = serviceID.String
	b.PaymentIntentID = paymentIntentID.String
	b.CheckoutSessionID = checkoutSession.String
	if releasedAt.Valid {
		b.ReleasedAt = &releasedAt.Time
	}

	return b, nil
}

func scanBookings(rows *sql.Rows) ([]*Booking, error) {
	var result []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
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

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
