package service

import (
	"context"
	"time"

	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/provider"
)

// EventStore reads event snapshots from the shared store.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	EventsStartingBetween(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// RegistrationStore persists registrations. Every mutation is an
// atomic conditional update: it succeeds only if the row is in the
// expected prior state, which serializes concurrent attempts on the
// same row without an in-process lock.
type RegistrationStore interface {
	// Reserve atomically checks capacity and duplicates and inserts
	// the registration. capacity nil means unlimited.
	Reserve(ctx context.Context, reg *model.Registration, capacity *int) error
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)

	Approve(ctx context.Context, id, approverID string, now time.Time) (*model.Registration, error)
	Reject(ctx context.Context, id, approverID string, now time.Time) (*model.Registration, error)
	Cancel(ctx context.Context, id string, now time.Time) (*model.Registration, error)

	// SetTicket records the ticket only if none exists yet.
	SetTicket(ctx context.Context, id, ticketNumber, qrURL string) (bool, error)
	// CheckIn sets checked_in_at only if still unset.
	CheckIn(ctx context.Context, id string, now time.Time) (bool, error)

	// MarkPaid credits a successful payment onto the registration,
	// only while it is still live; returns false when nothing was
	// credited (terminal or already paid).
	MarkPaid(ctx context.Context, id string, amount int64, now time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) error

	ListDueReminders(ctx context.Context, eventID string, window model.ReminderWindow) ([]model.Registration, error)
	// ClaimReminderFlag flips the window's flag false → true exactly once.
	ClaimReminderFlag(ctx context.Context, id string, window model.ReminderWindow) (bool, error)

	Stats(ctx context.Context, eventID string) (*model.CheckInStats, error)
}

// PaymentStore persists provider transactions.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error)
	// SettlePayment moves pending → terminal once; returns false when
	// the payment was already terminal.
	SettlePayment(ctx context.Context, reference string, status model.TxnStatus, metadata []byte, now time.Time) (bool, error)
}

// PaymentProvider is the external hosted-checkout API.
type PaymentProvider interface {
	Initialize(ctx context.Context, email string, amount int64, currency, reference string) (*provider.Checkout, error)
	Verify(ctx context.Context, reference string) (*provider.VerifyResult, error)
}
