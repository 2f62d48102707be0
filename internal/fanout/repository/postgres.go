package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const deliveryColumns = `event_id, recipient_id, channel, status, attempts, last_error, claimed_at, delivered_at, updated_at`

// PostgresRepository implements Repository using Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a Repository that uses the given *sql.DB.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Claim inserts a pending row or takes over a reclaimable one in a single statement. No row back
// means the existing row is delivered or held by someone else.
func (r *PostgresRepository) Claim(ctx context.Context, key Key, now time.Time, lease time.Duration) (ClaimResult, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO deliveries (event_id, recipient_id, channel, status, attempts, claimed_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $4)
		ON CONFLICT (event_id, recipient_id, channel) DO UPDATE
		SET status = 'pending', claimed_at = EXCLUDED.claimed_at, updated_at = EXCLUDED.updated_at
		WHERE deliveries.status = 'failed'
		   OR (deliveries.status = 'pending' AND deliveries.claimed_at < $5)
		RETURNING attempts`,
		key.EventID, key.RecipientID, key.Channel, now, now.Add(-lease),
	).Scan(&attempts)
	if err == nil {
		return ClaimAcquired, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("claim delivery: %w", err)
	}

	var status string
	err = r.db.QueryRowContext(ctx, `
		SELECT status FROM deliveries WHERE event_id = $1 AND recipient_id = $2 AND channel = $3`,
		key.EventID, key.RecipientID, key.Channel,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("read delivery status: %w", err)
	}
	if Status(status) == StatusDelivered {
		return ClaimAlreadyDelivered, nil
	}
	return ClaimInFlight, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, key Key, delivered bool, attempts int, lastError string, at time.Time) error {
	status := StatusFailed
	var deliveredAt sql.NullTime
	if delivered {
		status = StatusDelivered
		deliveredAt = sql.NullTime{Time: at, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $4, attempts = attempts + $5, last_error = $6, delivered_at = $7, updated_at = $8
		WHERE event_id = $1 AND recipient_id = $2 AND channel = $3`,
		key.EventID, key.RecipientID, key.Channel, string(status), attempts, lastError, deliveredAt, at,
	)
	if err != nil {
		return fmt.Errorf("complete delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("complete delivery: no claim for %s/%s/%s", key.EventID, key.RecipientID, key.Channel)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, key Key) (*Delivery, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE event_id = $1 AND recipient_id = $2 AND channel = $3`,
		key.EventID, key.RecipientID, key.Channel)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *PostgresRepository) ListByEvent(ctx context.Context, eventID string) ([]*Delivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE event_id = $1
		ORDER BY recipient_id, channel`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
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

func scanDelivery(s scanner) (*Delivery, error) {
	var (
		d           Delivery
		status      string
		deliveredAt sql.NullTime
	)
	if err := s.Scan(&d.EventID, &d.RecipientID, &d.Channel, &status, &d.Attempts, &d.LastError, &d.ClaimedAt, &deliveredAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.ClaimedAt = d.ClaimedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	if deliveredAt.Valid {
		t := deliveredAt.Time.UTC()
		d.DeliveredAt = &t
	}
	return &d, nil
}
