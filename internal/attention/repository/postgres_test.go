package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecircle/internal/attention/domain"
)

const (
	reqID  = "6a7b8c9d-0e1f-4a2b-8c3d-4e5f6a7b8c9d"
	prevID = "0d1e2f3a-4b5c-4d6e-8f70-81a2b3c4d5e6"
)

var columns = []string{"id", "owner_id", "tag", "note", "raised_at", "active", "cleared_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func newRequest() *domain.Request {
	return &domain.Request{ID: reqID, OwnerID: "sam", Tag: "walk-home", Note: "call me", RaisedAt: t0}
}

func TestPostgres_ReplaceActive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("attention|sam").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE attention_requests SET active = FALSE, cleared_at = \$2\s+WHERE owner_id = \$1 AND active`).
		WithArgs("sam", t0).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(prevID, "sam", "anxious", "", t0.Add(-time.Hour), false, t0))
	mock.ExpectExec(`INSERT INTO attention_requests`).
		WithArgs(reqID, "sam", "walk-home", "call me", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prev, err := repo.ReplaceActive(context.Background(), newRequest())
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, prevID, prev.ID)
	assert.Equal(t, t0, *prev.ClearedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceActive_UniqueViolation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE attention_requests`).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectExec(`INSERT INTO attention_requests`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.ReplaceActive(context.Background(), newRequest())
	require.ErrorIs(t, err, ErrActiveExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Deactivate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	at := t0.Add(time.Hour)

	mock.ExpectQuery(`UPDATE attention_requests SET active = FALSE, cleared_at = \$2\s+WHERE id = \$1 AND active`).
		WithArgs(reqID, at).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(reqID, "sam", "walk-home", "", t0, false, at))
	req, changed, err := repo.Deactivate(context.Background(), reqID, at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, req.Active)

	// Already inactive: read back and report unchanged.
	mock.ExpectQuery(`UPDATE attention_requests`).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT .* FROM attention_requests WHERE id = \$1`).
		WithArgs(reqID).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(reqID, "sam", "walk-home", "", t0, false, at))
	_, changed, err = repo.Deactivate(context.Background(), reqID, at)
	require.NoError(t, err)
	assert.False(t, changed)

	mock.ExpectQuery(`UPDATE attention_requests`).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT .* FROM attention_requests WHERE id = \$1`).WillReturnRows(sqlmock.NewRows(columns))
	_, _, err = repo.Deactivate(context.Background(), reqID, at)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = repo.Deactivate(context.Background(), "nope", at)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ActiveFor(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM attention_requests WHERE owner_id = \$1 AND active`).
		WithArgs("sam").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(reqID, "sam", "walk-home", "", t0, true, nil))
	req, err := repo.ActiveFor(context.Background(), "sam")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.True(t, req.Active)
	assert.Nil(t, req.ClearedAt)

	mock.ExpectQuery(`SELECT .* FROM attention_requests WHERE owner_id = \$1 AND active`).
		WithArgs("kim").
		WillReturnRows(sqlmock.NewRows(columns))
	req, err = repo.ActiveFor(context.Background(), "kim")
	require.NoError(t, err)
	assert.Nil(t, req)
	require.NoError(t, mock.ExpectationsWereMet())
}
