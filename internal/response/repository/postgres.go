package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"safecircle/internal/db"
	"safecircle/internal/response/domain"
)

const responseColumns = `id, alert_id, responder_id, kind, note, recorded_at, latency_ms`

// PostgresRepository implements Repository using Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a Repository that uses the given *sql.DB.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Record serialises writers of the same (alert, responder, kind) with a transaction-scoped advisory
// lock, so the lookup and the insert cannot interleave with a concurrent duplicate.
func (r *PostgresRepository) Record(ctx context.Context, resp *domain.Response, since time.Time) (*domain.Response, bool, error) {
	var (
		stored  *domain.Response
		created bool
	)
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		lockKey := resp.AlertID + "|" + resp.ResponderID + "|" + string(resp.Kind)
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("lock response key: %w", err)
		}
		row := tx.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses
			WHERE alert_id = $1 AND responder_id = $2 AND kind = $3 AND recorded_at >= $4
			ORDER BY recorded_at DESC LIMIT 1`,
			resp.AlertID, resp.ResponderID, string(resp.Kind), since)
		existing, err := scanResponse(row)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO responses (id, alert_id, responder_id, kind, note, recorded_at, latency_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			resp.ID, resp.AlertID, resp.ResponderID, string(resp.Kind), resp.Note, resp.RecordedAt, resp.Latency.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert response: %w", err)
		}
		stored, created = resp.Clone(), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *PostgresRepository) ListByAlert(ctx context.Context, alertID string) ([]*domain.Response, error) {
	if _, err := uuid.Parse(alertID); err != nil {
		return []*domain.Response{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE alert_id = $1 ORDER BY recorded_at`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.Response, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResponse(s scanner) (*domain.Response, error) {
	var (
		resp      domain.Response
		kind      string
		latencyMS int64
	)
	if err := s.Scan(&resp.ID, &resp.AlertID, &resp.ResponderID, &kind, &resp.Note, &resp.RecordedAt, &latencyMS); err != nil {
		return nil, err
	}
	resp.Kind = domain.Kind(kind)
	resp.RecordedAt = resp.RecordedAt.UTC()
	resp.Latency = time.Duration(latencyMS) * time.Millisecond
	return &resp, nil
}
