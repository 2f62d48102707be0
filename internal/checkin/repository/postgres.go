package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"safecircle/internal/checkin/domain"
)

const checkinColumns = `id, owner_id, created_at, deadline_at, status, selected_contact_ids, context, version, completed_at, alerted_at`

// PostgresRepository implements Repository using Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a Repository that uses the given *sql.DB.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *domain.CheckIn) error {
	contacts, err := json.Marshal(c.SelectedContactIDs)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(c.Context)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkins (id, owner_id, created_at, deadline_at, status, selected_contact_ids, context, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OwnerID, c.CreatedAt, c.DeadlineAt, string(c.Status), contacts, payload, c.Version,
	)
	if err != nil {
		return fmt.Errorf("insert checkin: %w", err)
	}
	return nil
}

// GetByID returns the check-in or nil, nil when it does not exist (including malformed ids).
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.CheckIn, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+checkinColumns+` FROM checkins WHERE id = $1`, id)
	c, err := scanCheckIn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CompareAndSetStatus updates only when the row is still active at expectedVersion. When no row is
// updated the current row is read back to classify the conflict.
func (r *PostgresRepository) CompareAndSetStatus(ctx context.Context, id string, expectedVersion int64, to domain.Status, at time.Time) (domain.Transition, error) {
	var stampColumn string
	switch to {
	case domain.StatusCompleted:
		stampColumn = "completed_at"
	case domain.StatusAlerted:
		stampColumn = "alerted_at"
	default:
		return domain.Transition{}, fmt.Errorf("invalid target status %q", to)
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.Transition{}, domain.ErrNotFound
	}

	query := `UPDATE checkins SET status = $3, version = version + 1, ` + stampColumn + ` = $4
		WHERE id = $1 AND status = 'active' AND version = $2
		RETURNING ` + checkinColumns
	row := r.db.QueryRowContext(ctx, query, id, expectedVersion, string(to), at)
	updated, err := scanCheckIn(row)
	if err == nil {
		return domain.Transition{CheckIn: updated, Applied: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Transition{}, fmt.Errorf("update checkin status: %w", err)
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.Transition{}, err
	}
	if cur == nil {
		return domain.Transition{}, domain.ErrNotFound
	}
	if cur.Status.Terminal() {
		return domain.Transition{CheckIn: cur, Conflict: domain.ReasonForStatus(cur.Status)}, nil
	}
	return domain.Transition{CheckIn: cur, Conflict: domain.ReasonStaleVersion}, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.CheckIn, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+checkinColumns+` FROM checkins WHERE status = 'active' ORDER BY deadline_at`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PostgresRepository) ListAlertedWithoutEvent(ctx context.Context, limit int) ([]*domain.CheckIn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.owner_id, c.created_at, c.deadline_at, c.status, c.selected_contact_ids, c.context, c.version, c.completed_at, c.alerted_at
		FROM checkins c
		LEFT JOIN alert_events a ON a.checkin_id = c.id
		WHERE c.status = 'alerted' AND a.id IS NULL
		ORDER BY c.alerted_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckIn(s scanner) (*domain.CheckIn, error) {
	var (
		c           domain.CheckIn
		status      string
		contacts    []byte
		payload     []byte
		completedAt sql.NullTime
		alertedAt   sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.OwnerID, &c.CreatedAt, &c.DeadlineAt, &status, &contacts, &payload, &c.Version, &completedAt, &alertedAt); err != nil {
		return nil, err
	}
	c.Status = domain.Status(status)
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &c.SelectedContactIDs); err != nil {
			return nil, fmt.Errorf("decode selected_contact_ids: %w", err)
		}
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &c.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.DeadlineAt = c.DeadlineAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		c.CompletedAt = &t
	}
	if alertedAt.Valid {
		t := alertedAt.Time.UTC()
		c.AlertedAt = &t
	}
	return &c, nil
}

func collect(rows *sql.Rows) ([]*domain.CheckIn, error) {
	defer rows.Close()
	out := make([]*domain.CheckIn, 0)
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
