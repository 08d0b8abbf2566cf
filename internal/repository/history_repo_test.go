package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartparking/internal/models"
)

func archivedSession(id string, cents int64) models.Session {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Minute)
	return models.Session{
		ID:        id,
		LotID:     "lot-1",
		LotName:   "Downtown",
		Plate:     "RAB123C",
		Status:    models.SessionStatusCompleted,
		StartedAt: started,
		EndedAt:   &ended,
		Currency:  "RWF",
		Payment:   models.Payment{Status: models.PaymentStatusPaid, AmountCents: cents},
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := NewHistoryRepository(db)
	require.NoError(t, repo.Upsert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := archivedSession("s-1", 1500)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO archived_sessions (id,lot_id,lot_name,plate,status,started_at,ended_at,amount_cents,currency,payment_status) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (id) DO UPDATE")).
		WithArgs("s-1", "lot-1", "Downtown", "RAB123C", "completed", s.StartedAt, sqlmock.AnyArg(), int64(1500), "RWF", "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewHistoryRepository(db)
	require.NoError(t, repo.Upsert(context.Background(), []models.Session{s}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO archived_sessions").WillReturnError(errors.New("disk full"))

	repo := NewHistoryRepository(db)
	err = repo.Upsert(context.Background(), []models.Session{archivedSession("s-1", 10)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiving sessions")
}

func TestList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ended := started.Add(time.Hour)
	rows := sqlmock.NewRows(archiveColumns).
		AddRow("s-2", "lot-1", "Downtown", "RAB123C", "completed", started, ended, int64(900), "RWF", "paid").
		AddRow("s-1", "lot-2", "", "RAC555D", "completed", started.Add(-time.Hour), nil, int64(0), "RWF", "")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + strings.Join(archiveColumns, ", ") + " FROM archived_sessions ORDER BY started_at DESC LIMIT 30")).
		WillReturnRows(rows)

	repo := NewHistoryRepository(db)
	sessions, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "s-2", sessions[0].ID)
	assert.True(t, sessions[0].Paid())
	assert.Equal(t, int64(900), sessions[0].BilledCents())
	require.NotNil(t, sessions[0].EndedAt)
	assert.Equal(t, ended, *sessions[0].EndedAt)

	assert.Nil(t, sessions[1].EndedAt)
	assert.Equal(t, "lot-2", sessions[1].DisplayLot())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT .* FROM archived_sessions").WillReturnError(errors.New("connection reset"))

	repo := NewHistoryRepository(db)
	_, err = repo.List(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying archive")
}

func TestPrune(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM archived_sessions WHERE started_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	repo := NewHistoryRepository(db)
	removed, err := repo.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
