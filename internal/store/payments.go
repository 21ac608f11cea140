package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment inserts a payment record keyed by its idempotency key. If a
// record with the same key already exists it is returned unchanged.
func (s *Store) CreatePayment(ctx context.Context, p *models.PaymentRecord) (*models.PaymentRecord, error) {
	query := `
		INSERT INTO payments (
			id, user_id, session_id, amount, currency, payment_method, status,
			idempotency_key, client_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (idempotency_key) DO UPDATE SET idempotency_key = payments.idempotency_key
		RETURNING *`

	var stored models.PaymentRecord
	err := s.db.GetContext(ctx, &stored, query,
		p.ID, p.UserID, p.SessionID, p.Amount, p.Currency, p.PaymentMethod, p.Status,
		p.IdempotencyKey, p.ClientSecret, p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetPayment retrieves a payment by its intent ID
func (s *Store) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := s.db.GetContext(ctx, &p, "SELECT * FROM payments WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

// GetPaymentForSession returns the most recent payment for a session in the
// given status, or nil if there is none.
func (s *Store) GetPaymentForSession(ctx context.Context, sessionID, status string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := s.db.GetContext(ctx, &p, `
		SELECT * FROM payments WHERE session_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`, sessionID, status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPayments counts a session's payments in the given status.
func (s *Store) CountPayments(ctx context.Context, sessionID, status string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM payments WHERE session_id = $1 AND status = $2", sessionID, status)
	return n, err
}

// ListPayments returns a user's payments, newest first.
func (s *Store) ListPayments(ctx context.Context, userID string, limit, offset int) ([]models.PaymentRecord, error) {
	payments := []models.PaymentRecord{}
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	return payments, err
}

// ListPaymentsByStatus returns payments in status last touched before cutoff.
// Records never reconciled come first, then the least recently reconciled,
// so unresolved records rotate to the back instead of pinning the batch.
func (s *Store) ListPaymentsByStatus(ctx context.Context, status string, cutoff time.Time, limit int) ([]models.PaymentRecord, error) {
	payments := []models.PaymentRecord{}
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments WHERE status = $1 AND updated_at <= $2
		ORDER BY reconciled_at ASC NULLS FIRST, updated_at ASC LIMIT $3`, status, cutoff, limit)
	return payments, err
}

// MarkPaymentReconciled stamps a pending payment as checked at at. It leaves
// updated_at alone so the grace window still measures from the last change.
func (s *Store) MarkPaymentReconciled(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET reconciled_at = $2 WHERE id = $1 AND status = 'pending'", id, at)
	return err
}

// MarkPaymentSucceeded records gateway success: the payment becomes
// succeeded, its session becomes paid, and the user's spend counters grow,
// all in one transaction. A payment already past pending/failed yields
// ErrConflict. The returned flag reports whether the session moved to paid.
func (s *Store) MarkPaymentSucceeded(ctx context.Context, id string, at time.Time) (bool, error) {
	sessionPaid := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row struct {
			UserID    string  `db:"user_id"`
			SessionID string  `db:"session_id"`
			Amount    float64 `db:"amount"`
		}
		err := tx.QueryRowxContext(ctx, `
			UPDATE payments
			SET status = 'succeeded', failure_reason = NULL, succeeded_at = $2, updated_at = $2
			WHERE id = $1 AND status IN ('pending', 'failed')
			RETURNING user_id, session_id, amount`,
			id, at).StructScan(&row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE parking_sessions SET status = 'paid', updated_at = $2 WHERE id = $1 AND status = 'completed'",
			row.SessionID, at)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		sessionPaid = n == 1

		return addUserStats(ctx, tx, models.UserStats{
			UserID:            row.UserID,
			TotalSpent:        row.Amount,
			PaymentsCompleted: 1,
		}, at)
	})
	return sessionPaid, err
}

// MarkPaymentFailed moves a pending payment to failed.
func (s *Store) MarkPaymentFailed(ctx context.Context, id, reason string, at time.Time) error {
	return expectOne(s.db.ExecContext(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`, id, reason, at))
}

// MarkPaymentRefunded moves a succeeded payment to refunded with its refund
// metadata.
func (s *Store) MarkPaymentRefunded(ctx context.Context, refund *models.Refund) error {
	return expectOne(s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = 'refunded', refund_id = $2, refund_amount = $3, refund_reason = $4, updated_at = $5
		WHERE id = $1 AND status = 'succeeded'`,
		refund.PaymentID, refund.ID, refund.Amount, refund.Reason, refund.CreatedAt))
}
