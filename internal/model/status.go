package model

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of an event, owned by the event
// CRUD collaborator. This core only reads it.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
	EventCompleted EventStatus = "completed"
)

// ApprovalMode controls whether registrations need organizer approval.
type ApprovalMode string

const (
	ApprovalAutomated ApprovalMode = "automated"
	ApprovalManual    ApprovalMode = "manual"
)

// RegistrationStatus is the lifecycle state of a registration.
type RegistrationStatus string

const (
	RegistrationPendingEmail    RegistrationStatus = "pending_email"
	RegistrationPendingApproval RegistrationStatus = "pending_approval"
	RegistrationConfirmed       RegistrationStatus = "confirmed"
	RegistrationCancelled       RegistrationStatus = "cancelled"
	RegistrationRejected        RegistrationStatus = "rejected"
)

// legalTransitions encodes the registration state machine. cancelled
// and rejected are terminal.
var legalTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationPendingEmail:    {RegistrationPendingApproval, RegistrationConfirmed},
	RegistrationPendingApproval: {RegistrationConfirmed, RegistrationRejected, RegistrationCancelled},
	RegistrationConfirmed:       {RegistrationCancelled},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s RegistrationStatus) CanTransitionTo(target RegistrationStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Active reports whether the registration still occupies a seat.
// Cancelled and rejected registrations release their capacity.
func (s RegistrationStatus) Active() bool {
	return s != RegistrationCancelled && s != RegistrationRejected
}

// ReminderWindow identifies one of the two reminder thresholds. Each
// has its own once-only sent flag on the registration.
type ReminderWindow string

const (
	Reminder24h ReminderWindow = "24h"
	Reminder1h  ReminderWindow = "1h"
)

// Duration returns the lead time before the event start.
func (w ReminderWindow) Duration() time.Duration {
	if w == Reminder1h {
		return time.Hour
	}
	return 24 * time.Hour
}

// ApprovalStatus is the organizer's decision on a manual-approval
// registration.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalAccepted ApprovalStatus = "accepted"
	ApprovalRejected ApprovalStatus = "rejected"
)

// PaymentStatus is the payment state of a registration. None applies
// to free events.
type PaymentStatus string

const (
	PaymentNone    PaymentStatus = "none"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// TxnStatus is the state of a provider payment transaction.
type TxnStatus string

const (
	TxnPending    TxnStatus = "pending"
	TxnSuccessful TxnStatus = "successful"
	TxnFailed     TxnStatus = "failed"
)

// Terminal reports whether the transaction has settled. Terminal
// statuses are written exactly once.
func (s TxnStatus) Terminal() bool {
	return s == TxnSuccessful || s == TxnFailed
}

// ParseTxnStatus maps a provider-reported status string to a TxnStatus.
func ParseTxnStatus(raw string) (TxnStatus, error) {
	switch raw {
	case "success", "successful":
		return TxnSuccessful, nil
	case "failed", "abandoned":
		return TxnFailed, nil
	case "pending", "ongoing":
		return TxnPending, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
}
