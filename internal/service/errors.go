package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/gatherly/attendance/internal/model"
)

// ErrForbidden is returned when the caller is not allowed to act on
// the resource (wrong owner, wrong organizer).
var ErrForbidden = errors.New("forbidden")

// ErrAlreadyPaid is returned when payment is initialized for a
// registration that has already been paid for.
var ErrAlreadyPaid = errors.New("registration already paid")

// ErrInvalidSignature is returned when a webhook payload fails
// signature verification. The payload is never processed.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AdmissionReason is a machine-readable admission rejection code.
type AdmissionReason string

const (
	ReasonNotPublished   AdmissionReason = "not_published"
	ReasonAlreadyStarted AdmissionReason = "already_started"
	ReasonDeadlinePassed AdmissionReason = "deadline_passed"
	ReasonDuplicate      AdmissionReason = "duplicate_registration"
	ReasonFull           AdmissionReason = "event_full"
)

// AdmissionError rejects a registration request. The caller must not
// retry without a state change; the decision can differ on a fresh
// call.
type AdmissionError struct {
	Reason AdmissionReason
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected: %s", e.Reason)
}

// StateConflictError reports a transition attempted from an illegal
// source state, so callers can render "already handled" instead of a
// generic failure.
type StateConflictError struct {
	RegistrationID string
	Current        model.RegistrationStatus
	Attempted      string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s registration %s: current status is %s",
		e.Attempted, e.RegistrationID, e.Current)
}

// CheckInReason is a machine-readable check-in rejection code.
type CheckInReason string

const (
	CheckInMalformedToken   CheckInReason = "malformed_token"
	CheckInWrongEvent       CheckInReason = "wrong_event"
	CheckInNotConfirmed     CheckInReason = "not_confirmed"
	CheckInAlreadyCheckedIn CheckInReason = "already_checked_in"
)

// CheckInError rejects a check-in attempt. For already_checked_in the
// Attendee field carries who was admitted and when, so door staff can
// see the original scan.
type CheckInError struct {
	Reason   CheckInReason
	Status   model.RegistrationStatus
	Attendee *model.AttendeeSummary
}

func (e *CheckInError) Error() string {
	if e.Reason == CheckInAlreadyCheckedIn && e.Attendee != nil && e.Attendee.CheckedInAt != nil {
		return fmt.Sprintf("check-in rejected: already checked in at %s",
			e.Attendee.CheckedInAt.Format(time.RFC3339))
	}
	if e.Reason == CheckInNotConfirmed {
		return fmt.Sprintf("check-in rejected: registration status is %s", e.Status)
	}
	return fmt.Sprintf("check-in rejected: %s", e.Reason)
}
