// Package model defines the core domain types for the attendance
// lifecycle: events (read-only snapshots), registrations, and payments.
package model

import "time"

// Event is a read-only snapshot of an event as exposed by the event
// CRUD collaborator. CapacityLimit of nil means unlimited.
type Event struct {
	ID                   string       `json:"id"`
	OwnerID              string       `json:"owner_id"`
	Title                string       `json:"title"`
	CapacityLimit        *int         `json:"capacity_limit,omitempty"`
	Status               EventStatus  `json:"status"`
	StartDatetime        time.Time    `json:"start_datetime"`
	EndDatetime          time.Time    `json:"end_datetime"`
	RegistrationDeadline *time.Time   `json:"registration_deadline,omitempty"`
	ApprovalMode         ApprovalMode `json:"approval_mode"`
	IsFree               bool         `json:"is_free"`
	Price                int64        `json:"price,omitempty"`
	Currency             string       `json:"currency,omitempty"`
}

// Registration is a user's attendance record for an event. It is never
// physically deleted; cancellation is a status transition.
type Registration struct {
	ID                 string             `json:"id"`
	EventID            string             `json:"event_id"`
	UserID             string             `json:"user_id"`
	TicketNumber       string             `json:"ticket_number,omitempty"`
	QRCodeURL          string             `json:"qr_code_url,omitempty"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	ApprovalStatus     ApprovalStatus     `json:"approval_status,omitempty"`
	PaymentStatus      PaymentStatus      `json:"payment_status"`
	AmountPaid         int64              `json:"amount_paid,omitempty"`
	CheckedInAt        *time.Time         `json:"checked_in_at,omitempty"`
	ReminderSent24h    bool               `json:"reminder_sent_24h"`
	ReminderSent1h     bool               `json:"reminder_sent_1h"`
	RegisteredAt       time.Time          `json:"registered_at"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	ApprovedAt         *time.Time         `json:"approved_at,omitempty"`
	ApprovedByID       string             `json:"approved_by_id,omitempty"`
	PaidAt             *time.Time         `json:"paid_at,omitempty"`
}

// Provisional reports whether the registration is seated but not yet
// paid for. Paid events reach a fully effective confirmed state only
// once the reconciler settles the payment.
func (r *Registration) Provisional() bool {
	return r.RegistrationStatus == RegistrationConfirmed && r.PaymentStatus == PaymentPending
}

// Payment is a provider transaction for a paid registration. Its
// status is mutated exactly once into a terminal state, no matter how
// many completion signals arrive.
type Payment struct {
	ID                string     `json:"id"`
	RegistrationID    string     `json:"registration_id"`
	EventID           string     `json:"event_id"`
	UserID            string     `json:"user_id"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Provider          string     `json:"provider"`
	ProviderReference string     `json:"provider_reference"`
	Status            TxnStatus  `json:"status"`
	Metadata          []byte     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
}

// CheckInStats summarises attendance for an event.
type CheckInStats struct {
	EventID         string `json:"event_id"`
	Confirmed       int    `json:"confirmed"`
	CheckedIn       int    `json:"checked_in"`
	PendingApproval int    `json:"pending_approval"`
	Cancelled       int    `json:"cancelled"`
}

// AttendeeSummary identifies a checked-in (or checking-in) attendee.
// Included in "already checked in" rejections so door staff can see
// who scanned first and when.
type AttendeeSummary struct {
	RegistrationID string     `json:"registration_id"`
	UserID         string     `json:"user_id"`
	TicketNumber   string     `json:"ticket_number"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
}

// SweepReport aggregates one reminder sweep run for observability.
// Sent counts only sends whose flag claim succeeded; Duplicate counts
// sends whose flag an overlapping sweep had already claimed.
type SweepReport struct {
	Threshold time.Duration `json:"-"`
	Attempted int           `json:"attempted"`
	Sent      int           `json:"sent"`
	Duplicate int           `json:"duplicate"`
	Failed    int           `json:"failed"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
