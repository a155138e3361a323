// Package service implements the attendance core's business logic:
// capacity admission, the registration state machine, ticket issuance
// and check-in, payment reconciliation, and reminder sweeps. Services
// consume narrow store interfaces so the pgx repository and the
// in-memory store are interchangeable.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/attendance/internal/email"
	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/repository"
)

// RegistrationService owns the registration lifecycle: admission,
// approval, rejection, and cancellation.
type RegistrationService struct {
	events    EventStore
	regs      RegistrationStore
	ticketing *Ticketing
	email     email.Sender
	now       func() time.Time
}

// NewRegistrationService constructs a RegistrationService. now may be
// nil, in which case time.Now is used.
func NewRegistrationService(events EventStore, regs RegistrationStore, ticketing *Ticketing, sender email.Sender, now func() time.Time) *RegistrationService {
	if sender == nil {
		sender = email.LogSender{}
	}
	if now == nil {
		now = time.Now
	}
	return &RegistrationService{
		events: events, regs: regs, ticketing: ticketing,
		email: sender, now: now,
	}
}

// notify delivers a lifecycle email. Delivery is non-essential to the
// state change that triggered it: failures are logged, never surfaced.
func (s *RegistrationService) notify(ctx context.Context, recipient, template string, data map[string]any) {
	if err := s.email.Send(ctx, recipient, template, data); err != nil {
		slog.Error("notification send failed",
			"recipient", recipient, "template", template, "error", err)
	}
}

// Register admits a user to an event and creates their registration.
//
// Preconditions are checked in order, each with its own rejection
// reason: event exists, published, not yet started, deadline not
// passed, no live duplicate, capacity remaining. The duplicate and
// capacity checks are atomic with the insert inside the store.
func (s *RegistrationService) Register(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	eventID = strings.TrimSpace(eventID)
	userID = strings.TrimSpace(userID)
	if eventID == "" {
		return nil, Validationf("event id is required")
	}
	if userID == "" {
		return nil, Validationf("user id is required")
	}

	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if ev.Status != model.EventPublished {
		return nil, &AdmissionError{Reason: ReasonNotPublished}
	}
	if !now.Before(ev.StartDatetime) {
		return nil, &AdmissionError{Reason: ReasonAlreadyStarted}
	}
	if ev.RegistrationDeadline != nil && now.After(*ev.RegistrationDeadline) {
		return nil, &AdmissionError{Reason: ReasonDeadlinePassed}
	}

	reg := &model.Registration{
		ID:           uuid.New().String(),
		EventID:      ev.ID,
		UserID:       userID,
		RegisteredAt: now,
	}
	if ev.ApprovalMode == model.ApprovalManual {
		reg.RegistrationStatus = model.RegistrationPendingApproval
		reg.ApprovalStatus = model.ApprovalPending
	} else {
		reg.RegistrationStatus = model.RegistrationConfirmed
	}
	if ev.IsFree {
		reg.PaymentStatus = model.PaymentNone
	} else {
		// Provisionally seated until the reconciler settles payment.
		reg.PaymentStatus = model.PaymentPending
	}

	if err := s.regs.Reserve(ctx, reg, ev.CapacityLimit); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyRegistered):
			return nil, &AdmissionError{Reason: ReasonDuplicate}
		case errors.Is(err, repository.ErrEventFull):
			return nil, &AdmissionError{Reason: ReasonFull}
		default:
			return nil, fmt.Errorf("reserve registration: %w", err)
		}
	}

	if reg.RegistrationStatus == model.RegistrationConfirmed {
		if err := s.ticketing.EnsureTicket(ctx, reg); err != nil {
			slog.Error("ticket issuance failed after admission",
				"registration_id", reg.ID, "error", err)
		}
		s.notify(ctx, userID, email.TemplateRegistrationConfirmed, map[string]any{
			"event_title":   ev.Title,
			"ticket_number": reg.TicketNumber,
			"provisional":   reg.Provisional(),
		})
	} else {
		s.notify(ctx, userID, email.TemplateRegistrationPending, map[string]any{
			"event_title": ev.Title,
		})
	}
	return reg, nil
}

// stateConflict builds a StateConflictError with the row's current
// status, so "already handled" is distinguishable from a real fault.
func (s *RegistrationService) stateConflict(ctx context.Context, id, attempted string) error {
	current, err := s.regs.GetRegistration(ctx, id)
	if err != nil {
		return err
	}
	return &StateConflictError{
		RegistrationID: id,
		Current:        current.RegistrationStatus,
		Attempted:      attempted,
	}
}

// Approve accepts a pending-approval registration. Only the event
// owner may approve.
func (s *RegistrationService) Approve(ctx context.Context, registrationID, approverID string) (*model.Registration, error) {
	reg, err := s.regs.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	ev, err := s.events.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if ev.OwnerID != approverID {
		return nil, ErrForbidden
	}

	updated, err := s.regs.Approve(ctx, registrationID, approverID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, s.stateConflict(ctx, registrationID, "approve")
		}
		return nil, err
	}

	if err := s.ticketing.EnsureTicket(ctx, updated); err != nil {
		slog.Error("ticket issuance failed after approval",
			"registration_id", updated.ID, "error", err)
	}
	s.notify(ctx, updated.UserID, email.TemplateRegistrationApproved, map[string]any{
		"event_title":   ev.Title,
		"ticket_number": updated.TicketNumber,
	})
	return updated, nil
}

// Reject declines a pending-approval registration, releasing its
// admission slot. Only the event owner may reject.
func (s *RegistrationService) Reject(ctx context.Context, registrationID, approverID string) (*model.Registration, error) {
	reg, err := s.regs.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	ev, err := s.events.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if ev.OwnerID != approverID {
		return nil, ErrForbidden
	}

	updated, err := s.regs.Reject(ctx, registrationID, approverID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, s.stateConflict(ctx, registrationID, "reject")
		}
		return nil, err
	}

	s.notify(ctx, updated.UserID, email.TemplateRegistrationRejected, map[string]any{
		"event_title": ev.Title,
	})
	return updated, nil
}

// Cancel withdraws a registration, releasing its admission slot. Only
// the registration's own user may cancel it.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID, byUserID string) (*model.Registration, error) {
	reg, err := s.regs.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != byUserID {
		return nil, ErrForbidden
	}

	updated, err := s.regs.Cancel(ctx, registrationID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, s.stateConflict(ctx, registrationID, "cancel")
		}
		return nil, err
	}
	return updated, nil
}

// Get returns a registration to its owner or the event owner.
func (s *RegistrationService) Get(ctx context.Context, registrationID, requesterID string) (*model.Registration, error) {
	reg, err := s.regs.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID == requesterID {
		return reg, nil
	}
	ev, err := s.events.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if ev.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return reg, nil
}

// ListByEvent returns an event's registrations to its owner.
func (s *RegistrationService) ListByEvent(ctx context.Context, eventID, requesterID string) ([]model.Registration, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return s.regs.ListByEvent(ctx, eventID)
}
