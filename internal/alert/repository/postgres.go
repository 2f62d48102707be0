package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"safecircle/internal/alert/domain"
)

const alertColumns = `id, checkin_id, owner_id, trigger, fired_at, recipient_ids, channels_attempted, fanout_completed_at`

// PostgresRepository implements Repository using Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a Repository that uses the given *sql.DB.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create relies on the unique index on checkin_id; a conflicting insert returns no row and the
// existing event is read back.
func (r *PostgresRepository) Create(ctx context.Context, ev *domain.AlertEvent) (*domain.AlertEvent, bool, error) {
	recipients, err := json.Marshal(nonNil(ev.RecipientIDs))
	if err != nil {
		return nil, false, err
	}
	attempted, err := json.Marshal(nonNil(ev.ChannelsAttempted))
	if err != nil {
		return nil, false, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO alert_events (id, checkin_id, owner_id, trigger, fired_at, recipient_ids, channels_attempted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (checkin_id) DO NOTHING
		RETURNING `+alertColumns,
		ev.ID, ev.CheckInID, ev.OwnerID, string(ev.Trigger), ev.FiredAt, recipients, attempted,
	)
	stored, err := scanAlert(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert alert event: %w", err)
	}
	existing, err := r.GetByCheckInID(ctx, ev.CheckInID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("alert event for check-in %s vanished after conflict", ev.CheckInID)
	}
	return existing, false, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AlertEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+alertColumns+` FROM alert_events WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByCheckInID(ctx context.Context, checkInID string) (*domain.AlertEvent, error) {
	if _, err := uuid.Parse(checkInID); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+alertColumns+` FROM alert_events WHERE checkin_id = $1`, checkInID)
}

func (r *PostgresRepository) HasEventFor(ctx context.Context, checkInID string) (bool, error) {
	if _, err := uuid.Parse(checkInID); err != nil {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM alert_events WHERE checkin_id = $1)`, checkInID).Scan(&exists)
	return exists, err
}

// AddChannelsAttempted unions the stored JSONB array with channels in a single statement.
func (r *PostgresRepository) AddChannelsAttempted(ctx context.Context, id string, channels []string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	payload, err := json.Marshal(nonNil(channels))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_events SET channels_attempted = (
			SELECT COALESCE(jsonb_agg(DISTINCT v), '[]'::jsonb)
			FROM jsonb_array_elements_text(channels_attempted || $2::jsonb) AS v
		)
		WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("update channels_attempted: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) MarkFanoutComplete(ctx context.Context, id string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_events SET fanout_completed_at = COALESCE(fanout_completed_at, $2)
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark fanout complete: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) ListIncompleteFanout(ctx context.Context, olderThan time.Time, limit int) ([]*domain.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alert_events
		WHERE fanout_completed_at IS NULL AND fired_at <= $1
		ORDER BY fired_at
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.AlertEvent, 0)
	for rows.Next() {
		ev, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.AlertEvent, error) {
	ev, err := scanAlert(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(s scanner) (*domain.AlertEvent, error) {
	var (
		ev         domain.AlertEvent
		trigger    string
		recipients []byte
		attempted  []byte
		completed  sql.NullTime
	)
	if err := s.Scan(&ev.ID, &ev.CheckInID, &ev.OwnerID, &trigger, &ev.FiredAt, &recipients, &attempted, &completed); err != nil {
		return nil, err
	}
	ev.Trigger = domain.Trigger(trigger)
	ev.FiredAt = ev.FiredAt.UTC()
	ev.RecipientIDs = []string{}
	ev.ChannelsAttempted = []string{}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &ev.RecipientIDs); err != nil {
			return nil, fmt.Errorf("decode recipient_ids: %w", err)
		}
	}
	if len(attempted) > 0 {
		if err := json.Unmarshal(attempted, &ev.ChannelsAttempted); err != nil {
			return nil, fmt.Errorf("decode channels_attempted: %w", err)
		}
	}
	if completed.Valid {
		t := completed.Time.UTC()
		ev.FanoutCompletedAt = &t
	}
	return &ev, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
