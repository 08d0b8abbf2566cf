package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"smartparking/internal/models"
)

const defaultHistoryLimit = 30

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var archiveColumns = []string{
	"id", "lot_id", "lot_name", "plate", "status", "started_at",
	"ended_at", "amount_cents", "currency", "payment_status",
}

// HistoryRepository archives completed sessions locally so history survives backend retention.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository returns repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Upsert stores or refreshes archived sessions.
func (r *HistoryRepository) Upsert(ctx context.Context, sessions []models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	qb := psq.Insert("archived_sessions").Columns(archiveColumns...)
	for _, s := range sessions {
		paymentStatus := string(s.Payment.Status)
		if paymentStatus == "" {
			paymentStatus = s.PaymentStatus
		}
		qb = qb.Values(
			s.ID, s.LotID, s.LotName, s.Plate, string(s.Status), s.StartedAt,
			s.EndedAt, s.BilledCents(), s.Currency, paymentStatus,
		)
	}
	qb = qb.Suffix(`ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		ended_at = EXCLUDED.ended_at,
		amount_cents = EXCLUDED.amount_cents,
		payment_status = EXCLUDED.payment_status,
		archived_at = NOW()`)

	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("building archive upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("archiving sessions: %w", err)
	}
	return nil
}

// List returns the newest archived sessions first.
func (r *HistoryRepository) List(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	query, args, err := psq.Select(archiveColumns...).
		From("archived_sessions").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building archive query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			s             models.Session
			status        string
			endedAt       sql.NullTime
			amount        int64
			paymentStatus string
		)
		if err := rows.Scan(
			&s.ID,
			&s.LotID,
			&s.LotName,
			&s.Plate,
			&status,
			&s.StartedAt,
			&endedAt,
			&amount,
			&s.Currency,
			&paymentStatus,
		); err != nil {
			return nil, err
		}
		s.Status = models.SessionStatus(status)
		if endedAt.Valid {
			t := endedAt.Time
			s.EndedAt = &t
		}
		s.AmountCents = &amount
		s.Payment = models.Payment{Status: models.PaymentStatus(paymentStatus), AmountCents: amount, Currency: s.Currency}
		s.PaymentStatus = paymentStatus
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Prune deletes archived sessions older than the cutoff and returns how many were removed.
func (r *HistoryRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query, args, err := psq.Delete("archived_sessions").
		Where(sq.Lt{"started_at": olderThan}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building archive prune: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning archive: %w", err)
	}
	return result.RowsAffected()
}
