package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"safecircle/internal/attention/domain"
	"safecircle/internal/db"
)

const requestColumns = `id, owner_id, tag, note, raised_at, active, cleared_at`

const uniqueViolation = "23505"

// PostgresRepository implements Repository using Postgres. The partial unique index on
// (owner_id) WHERE active backs the one-active-per-owner rule.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a Repository that uses the given *sql.DB.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ReplaceActive(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	var superseded *domain.Request
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "attention|"+req.OwnerID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		row := tx.QueryRowContext(ctx, `UPDATE attention_requests SET active = FALSE, cleared_at = $2
			WHERE owner_id = $1 AND active
			RETURNING `+requestColumns, req.OwnerID, req.RaisedAt)
		prev, err := scanRequest(row)
		switch {
		case err == nil:
			superseded = prev
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("deactivate previous request: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attention_requests (id, owner_id, tag, note, raised_at, active)
			VALUES ($1, $2, $3, $4, $5, TRUE)`,
			req.ID, req.OwnerID, req.Tag, req.Note, req.RaisedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrActiveExists
			}
			return fmt.Errorf("insert attention request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	req, err := scanRequest(r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM attention_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string, at time.Time) (*domain.Request, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, domain.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `UPDATE attention_requests SET active = FALSE, cleared_at = $2
		WHERE id = $1 AND active
		RETURNING `+requestColumns, id, at)
	req, err := scanRequest(row)
	if err == nil {
		return req, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("clear attention request: %w", err)
	}
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if cur == nil {
		return nil, false, domain.ErrNotFound
	}
	return cur, false, nil
}

func (r *PostgresRepository) ActiveFor(ctx context.Context, ownerID string) (*domain.Request, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM attention_requests WHERE owner_id = $1 AND active`, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*domain.Request, error) {
	var (
		req       domain.Request
		clearedAt sql.NullTime
	)
	if err := s.Scan(&req.ID, &req.OwnerID, &req.Tag, &req.Note, &req.RaisedAt, &req.Active, &clearedAt); err != nil {
		return nil, err
	}
	req.RaisedAt = req.RaisedAt.UTC()
	if clearedAt.Valid {
		t := clearedAt.Time.UTC()
		req.ClearedAt = &t
	}
	return &req, nil
}
