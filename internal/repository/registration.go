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

const registrationColumns = `id, event_id, user_id, ticket_number,
	qr_code_url, registration_status, approval_status, payment_status,
	amount_paid, checked_in_at, reminder_sent_24h, reminder_sent_1h,
	registered_at, cancelled_at, approved_at, approved_by_id, paid_at`

// RegistrationRepository handles persistence for registrations.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(&reg.ID, &reg.EventID, &reg.UserID, &reg.TicketNumber,
		&reg.QRCodeURL, &reg.RegistrationStatus, &reg.ApprovalStatus,
		&reg.PaymentStatus, &reg.AmountPaid, &reg.CheckedInAt,
		&reg.ReminderSent24h, &reg.ReminderSent1h, &reg.RegisteredAt,
		&reg.CancelledAt, &reg.ApprovedAt, &reg.ApprovedByID, &reg.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	return &reg, nil
}

// Reserve performs a concurrency-safe admission inside a single
// transaction: it locks the event row with SELECT … FOR UPDATE, checks
// for a live duplicate, compares the live registration count against
// the capacity limit, and inserts the new row. Two requests racing for
// the last seat serialize on the row lock, so exactly one of them
// observes free capacity.
//
// capacity is the event's limit; nil means unlimited.
func (r *RegistrationRepository) Reserve(ctx context.Context, reg *model.Registration, capacity *int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the event row so concurrent admissions for the same event
	// serialize here.
	var eventID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM events WHERE id = $1 FOR UPDATE`,
		reg.EventID,
	).Scan(&eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock event row: %w", err)
	}

	// A cancelled or rejected registration does not block a new one.
	var dupCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE event_id = $1 AND user_id = $2
		   AND registration_status NOT IN ('cancelled', 'rejected')`,
		reg.EventID, reg.UserID,
	).Scan(&dupCount)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if dupCount > 0 {
		err = ErrAlreadyRegistered
		return err
	}

	if capacity != nil {
		var active int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM registrations
			 WHERE event_id = $1
			   AND registration_status NOT IN ('cancelled', 'rejected')`,
			reg.EventID,
		).Scan(&active)
		if err != nil {
			return fmt.Errorf("count active registrations: %w", err)
		}
		if active >= *capacity {
			err = ErrEventFull
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO registrations
		 (id, event_id, user_id, ticket_number, qr_code_url,
		  registration_status, approval_status, payment_status,
		  registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		reg.ID, reg.EventID, reg.UserID, reg.TicketNumber, reg.QRCodeURL,
		reg.RegistrationStatus, reg.ApprovalStatus, reg.PaymentStatus,
		reg.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetRegistration returns a registration or ErrNotFound.
func (r *RegistrationRepository) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	return scanRegistration(row)
}

// ListByEvent returns all registrations for an event, oldest first.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY registered_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// Approve transitions pending_approval → confirmed. Returns
// ErrStateConflict if the registration is in any other state.
func (r *RegistrationRepository) Approve(ctx context.Context, id, approverID string, now time.Time) (*model.Registration, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE registrations
		 SET registration_status = 'confirmed', approval_status = 'accepted',
		     approved_at = $2, approved_by_id = $3
		 WHERE id = $1 AND registration_status = 'pending_approval'
		 RETURNING `+registrationColumns,
		id, now, approverID,
	)
	reg, err := scanRegistration(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStateConflict
	}
	return reg, err
}

// Reject transitions pending_approval → rejected, releasing the
// admission slot. Returns ErrStateConflict from any other state.
func (r *RegistrationRepository) Reject(ctx context.Context, id, approverID string, now time.Time) (*model.Registration, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE registrations
		 SET registration_status = 'rejected', approval_status = 'rejected',
		     approved_at = $2, approved_by_id = $3
		 WHERE id = $1 AND registration_status = 'pending_approval'
		 RETURNING `+registrationColumns,
		id, now, approverID,
	)
	reg, err := scanRegistration(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStateConflict
	}
	return reg, err
}

// Cancel transitions confirmed or pending_approval → cancelled,
// releasing the admission slot.
func (r *RegistrationRepository) Cancel(ctx context.Context, id string, now time.Time) (*model.Registration, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE registrations
		 SET registration_status = 'cancelled', cancelled_at = $2
		 WHERE id = $1
		   AND registration_status IN ('confirmed', 'pending_approval')
		 RETURNING `+registrationColumns,
		id, now,
	)
	reg, err := scanRegistration(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStateConflict
	}
	return reg, err
}

// SetTicket records the ticket number and QR URL, only if no ticket
// has been issued yet. Returns false when a ticket already exists, so
// the three issuance paths (create, approve, payment) cannot
// double-issue.
func (r *RegistrationRepository) SetTicket(ctx context.Context, id, ticketNumber, qrURL string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations
		 SET ticket_number = $2, qr_code_url = $3
		 WHERE id = $1 AND ticket_number = ''`,
		id, ticketNumber, qrURL,
	)
	if err != nil {
		return false, fmt.Errorf("set ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CheckIn sets checked_in_at, only if it is still unset. Returns false
// when the registration was already checked in; two near-simultaneous
// scans of the same QR code race on this conditional update and
// exactly one wins.
func (r *RegistrationRepository) CheckIn(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations
		 SET checked_in_at = $2
		 WHERE id = $1 AND checked_in_at IS NULL`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("check in: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaid cascades a successful payment onto the registration. The
// update is conditional on the registration still being live:
// cancelled and rejected are terminal, their seat is already released,
// so a late success signal must not resurrect them. Returns false when
// nothing was credited (registration terminal or already paid).
func (r *RegistrationRepository) MarkPaid(ctx context.Context, id string, amount int64, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations
		 SET payment_status = 'paid', registration_status = 'confirmed',
		     amount_paid = $2, paid_at = $3
		 WHERE id = $1 AND payment_status <> 'paid'
		   AND registration_status IN ('confirmed', 'pending_approval')`,
		id, amount, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaymentFailed records a failed payment. The registration status
// is left alone so the user can retry payment.
func (r *RegistrationRepository) MarkPaymentFailed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE registrations
		 SET payment_status = 'failed'
		 WHERE id = $1 AND payment_status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

func reminderColumn(window model.ReminderWindow) string {
	if window == model.Reminder1h {
		return "reminder_sent_1h"
	}
	return "reminder_sent_24h"
}

// ListDueReminders returns confirmed registrations for the event whose
// sent flag for the window is still false.
func (r *RegistrationRepository) ListDueReminders(ctx context.Context, eventID string, window model.ReminderWindow) ([]model.Registration, error) {
	col := reminderColumn(window)
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND registration_status = 'confirmed'
		   AND `+col+` = FALSE`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// ClaimReminderFlag flips the window's sent flag false → true. Returns
// false when another sweep already claimed it.
func (r *RegistrationRepository) ClaimReminderFlag(ctx context.Context, id string, window model.ReminderWindow) (bool, error) {
	col := reminderColumn(window)
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET `+col+` = TRUE
		 WHERE id = $1 AND `+col+` = FALSE`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("claim reminder flag: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Stats aggregates attendance counts for an event.
func (r *RegistrationRepository) Stats(ctx context.Context, eventID string) (*model.CheckInStats, error) {
	var s model.CheckInStats
	s.EventID = eventID
	err := r.db.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE registration_status = 'confirmed'),
		   COUNT(*) FILTER (WHERE checked_in_at IS NOT NULL),
		   COUNT(*) FILTER (WHERE registration_status = 'pending_approval'),
		   COUNT(*) FILTER (WHERE registration_status = 'cancelled')
		 FROM registrations WHERE event_id = $1`,
		eventID,
	).Scan(&s.Confirmed, &s.CheckedIn, &s.PendingApproval, &s.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("check-in stats: %w", err)
	}
	return &s, nil
}
