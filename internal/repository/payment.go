package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherly/attendance/internal/model"
)

const paymentColumns = `id, registration_id, event_id, user_id, amount,
	currency, provider, provider_reference, status, metadata, created_at,
	settled_at`

// PaymentRepository handles persistence for provider transactions.
type PaymentRepository struct {
	db *pgxpool.Pool
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.RegistrationID, &p.EventID, &p.UserID,
		&p.Amount, &p.Currency, &p.Provider, &p.ProviderReference,
		&p.Status, &p.Metadata, &p.CreatedAt, &p.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// CreatePayment inserts a pending payment. The unique constraint on
// provider_reference makes the reference the idempotency key shared
// with the provider.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO payments
		 (id, registration_id, event_id, user_id, amount, currency,
		  provider, provider_reference, status, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.RegistrationID, p.EventID, p.UserID, p.Amount, p.Currency,
		p.Provider, p.ProviderReference, p.Status, p.Metadata, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPaymentByReference looks a payment up by its provider reference.
func (r *PaymentRepository) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_reference = $1`,
		reference)
	return scanPayment(row)
}

// SettlePayment transitions a pending payment to a terminal status via
// a conditional update keyed on status = 'pending'. Returns false when
// the payment was already terminal, which is how the racing poll and
// webhook signals converge: exactly one performs the transition, the
// other observes it.
func (r *PaymentRepository) SettlePayment(ctx context.Context, reference string, status model.TxnStatus, metadata []byte, now time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("settle payment: %q is not a terminal status", status)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE payments
		 SET status = $2, metadata = COALESCE($3, metadata), settled_at = $4
		 WHERE provider_reference = $1 AND status = 'pending'`,
		reference, status, metadata, now,
	)
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
