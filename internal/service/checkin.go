package service

import (
	"context"
	"errors"
	"time"

	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/ticket"
)

// CheckinService verifies check-in tokens at the door and enforces
// single use per registration.
type CheckinService struct {
	events EventStore
	regs   RegistrationStore
	signer *ticket.Signer
	now    func() time.Time
}

// NewCheckinService constructs a CheckinService. now may be nil, in
// which case time.Now is used.
func NewCheckinService(events EventStore, regs RegistrationStore, signer *ticket.Signer, now func() time.Time) *CheckinService {
	if now == nil {
		now = time.Now
	}
	return &CheckinService{events: events, regs: regs, signer: signer, now: now}
}

// VerifyCheckIn validates a scanned token against the event being
// checked into and, if everything holds, marks the registration
// checked in. Validation order: token parses and verifies → token is
// for this event → registration exists → registration is confirmed →
// not already checked in. The final write is conditional on
// checked_in_at still being unset, so two near-simultaneous scans of
// the same code admit exactly one.
//
// Only the event owner may run check-in.
func (s *CheckinService) VerifyCheckIn(ctx context.Context, eventID, rawToken, scannerID string) (*model.AttendeeSummary, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OwnerID != scannerID {
		return nil, ErrForbidden
	}

	claims, err := s.signer.Verify(rawToken)
	if err != nil {
		if errors.Is(err, ticket.ErrMalformedToken) {
			return nil, &CheckInError{Reason: CheckInMalformedToken}
		}
		return nil, err
	}
	if claims.EventID != eventID {
		return nil, &CheckInError{Reason: CheckInWrongEvent}
	}

	reg, err := s.regs.GetRegistration(ctx, claims.RegistrationID)
	if err != nil {
		return nil, err
	}
	// The signature already binds these, but a stale token for a
	// reissued ticket must not pass.
	if reg.EventID != eventID || reg.TicketNumber != claims.TicketNumber {
		return nil, &CheckInError{Reason: CheckInMalformedToken}
	}
	if reg.RegistrationStatus != model.RegistrationConfirmed {
		return nil, &CheckInError{
			Reason: CheckInNotConfirmed,
			Status: reg.RegistrationStatus,
		}
	}
	if reg.CheckedInAt != nil {
		return nil, s.alreadyCheckedIn(reg)
	}

	now := s.now()
	ok, err := s.regs.CheckIn(ctx, reg.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race against another scan of the same code.
		current, err := s.regs.GetRegistration(ctx, reg.ID)
		if err != nil {
			return nil, err
		}
		return nil, s.alreadyCheckedIn(current)
	}

	return &model.AttendeeSummary{
		RegistrationID: reg.ID,
		UserID:         reg.UserID,
		TicketNumber:   reg.TicketNumber,
		CheckedInAt:    &now,
	}, nil
}

func (s *CheckinService) alreadyCheckedIn(reg *model.Registration) error {
	return &CheckInError{
		Reason: CheckInAlreadyCheckedIn,
		Attendee: &model.AttendeeSummary{
			RegistrationID: reg.ID,
			UserID:         reg.UserID,
			TicketNumber:   reg.TicketNumber,
			CheckedInAt:    reg.CheckedInAt,
		},
	}
}

// Stats returns attendance counts for the event owner.
func (s *CheckinService) Stats(ctx context.Context, eventID, requesterID string) (*model.CheckInStats, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return s.regs.Stats(ctx, eventID)
}
