package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, event_type, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.EventType, n.Message, n.Read, n.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, message, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventType, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id, userID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (p *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND read = FALSE`, userID).Scan(&count)
	return count, err
}

// PostgresSubscriptionStore persists webhook subscriptions in PostgreSQL.
type PostgresSubscriptionStore struct {
	db *sql.DB
}

// NewPostgresSubscriptionStore creates a new PostgreSQL-backed subscription store.
func NewPostgresSubscriptionStore(db *sql.DB) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{db: db}
}

var _ SubscriptionStore = (*PostgresSubscriptionStore)(nil)

const subscriptionColumns = `id, user_id, url, secret, events, active,
		       created_at, last_success, last_error`

func (p *PostgresSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (
			id, user_id, url, secret, events, active,
			created_at, last_success, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.UserID, sub.URL, sub.Secret, pq.Array(sub.Events), sub.Active,
		sub.CreatedAt, nullTime(sub.LastSuccess), nullString(sub.LastError),
	)
	return err
}

func (p *PostgresSubscriptionStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

func (p *PostgresSubscriptionStore) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (p *PostgresSubscriptionStore) Update(ctx context.Context, sub *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET
			url = $1, events = $2, active = $3, last_success = $4, last_error = $5
		WHERE id = $6`,
		sub.URL, pq.Array(sub.Events), sub.Active,
		nullTime(sub.LastSuccess), nullString(sub.LastError), sub.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresSubscriptionStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var (
		sub         Subscription
		events      pq.StringArray
		lastSuccess sql.NullTime
		lastError   sql.NullString
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.URL, &sub.Secret, &events, &sub.Active,
		&sub.CreatedAt, &lastSuccess, &lastError,
	)
	if err != nil {
		return nil, err
	}
	sub.Events = events
	sub.LastError = lastError.String
	if lastSuccess.Valid {
		t := lastSuccess.Time
		sub.LastSuccess = &t
	}
	return &sub, nil
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
