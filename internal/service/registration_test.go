package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/attendance/internal/email"
	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/repository"
)

func TestRegister_AutomatedFreeEvent_Confirms(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, model.RegistrationConfirmed, reg.RegistrationStatus)
	assert.Equal(t, model.PaymentNone, reg.PaymentStatus)
	assert.NotEmpty(t, reg.TicketNumber, "confirmed registration should get a ticket")
	assert.False(t, reg.Provisional())
	assert.Equal(t, 1, e.sender.count("user-1", email.TemplateRegistrationConfirmed))
}

func TestRegister_ManualApproval_Pending(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withManualApproval())

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, model.RegistrationPendingApproval, reg.RegistrationStatus)
	assert.Equal(t, model.ApprovalPending, reg.ApprovalStatus)
	assert.Empty(t, reg.TicketNumber, "no ticket before approval")
	assert.Equal(t, 1, e.sender.count("user-1", email.TemplateRegistrationPending))
}

func TestRegister_PaidEvent_ProvisionallySeated(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withPrice(5000, "NGN"))

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, model.RegistrationConfirmed, reg.RegistrationStatus)
	assert.Equal(t, model.PaymentPending, reg.PaymentStatus)
	assert.True(t, reg.Provisional(), "seated but unpaid")
}

func TestRegister_PreconditionRejections(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name   string
		opts   []eventOpt
		reason AdmissionReason
	}{
		{"draft event", []eventOpt{withStatus(model.EventDraft)}, ReasonNotPublished},
		{"cancelled event", []eventOpt{withStatus(model.EventCancelled)}, ReasonNotPublished},
		{"already started", []eventOpt{withStart(testNow.Add(-time.Hour))}, ReasonAlreadyStarted},
		{"deadline passed", []eventOpt{withDeadline(testNow.Add(-time.Minute))}, ReasonDeadlinePassed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := e.putEvent(tc.opts...)
			_, err := e.regs.Register(context.Background(), ev.ID, "user-1")
			var admission *AdmissionError
			require.ErrorAs(t, err, &admission)
			assert.Equal(t, tc.reason, admission.Reason)
		})
	}
}

func TestRegister_UnknownEvent(t *testing.T) {
	e := newEnv(t)
	_, err := e.regs.Register(context.Background(), "no-such-event", "user-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRegister_MissingInput(t *testing.T) {
	e := newEnv(t)
	var validation *ValidationError

	_, err := e.regs.Register(context.Background(), "", "user-1")
	assert.ErrorAs(t, err, &validation)

	_, err = e.regs.Register(context.Background(), "ev-1", "  ")
	assert.ErrorAs(t, err, &validation)
}

func TestRegister_DuplicateRejected(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	_, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	_, err = e.regs.Register(context.Background(), ev.ID, "user-1")
	var admission *AdmissionError
	require.ErrorAs(t, err, &admission)
	assert.Equal(t, ReasonDuplicate, admission.Reason)
}

func TestRegister_AfterCancel_Succeeds(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	first, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	_, err = e.regs.Cancel(context.Background(), first.ID, "user-1")
	require.NoError(t, err)

	second, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

// Capacity admission under contention: with K seats and N concurrent
// requests, exactly min(N, K) are admitted.
func TestRegister_ConcurrentCapacity(t *testing.T) {
	e := newEnv(t)
	const seats, attempts = 5, 20
	ev := e.putEvent(withCapacity(seats))

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.regs.Register(context.Background(), ev.ID, fmt.Sprintf("user-%d", i))
		}(i)
	}
	wg.Wait()

	admitted, full := 0, 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		var admission *AdmissionError
		require.ErrorAs(t, err, &admission)
		require.Equal(t, ReasonFull, admission.Reason)
		full++
	}
	assert.Equal(t, seats, admitted)
	assert.Equal(t, attempts-seats, full)
}

// Two users race for the last seat: one confirmed, one rejected full.
func TestRegister_LastSeatRace(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withCapacity(1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.regs.Register(context.Background(), ev.ID, fmt.Sprintf("racer-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one racer gets the last seat")
}

func TestApprove_ConfirmsAndIssuesTicket(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withManualApproval())

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	approved, err := e.regs.Approve(context.Background(), reg.ID, ownerID)
	require.NoError(t, err)

	assert.Equal(t, model.RegistrationConfirmed, approved.RegistrationStatus)
	assert.Equal(t, model.ApprovalAccepted, approved.ApprovalStatus)
	assert.Equal(t, ownerID, approved.ApprovedByID)
	require.NotNil(t, approved.ApprovedAt)
	assert.NotEmpty(t, approved.TicketNumber)
	assert.Equal(t, 1, e.sender.count("user-1", email.TemplateRegistrationApproved))
}

func TestApprove_OnlyEventOwner(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withManualApproval())

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	_, err = e.regs.Approve(context.Background(), reg.ID, "someone-else")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestApprove_Twice_StateConflict(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withManualApproval())

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)
	_, err = e.regs.Approve(context.Background(), reg.ID, ownerID)
	require.NoError(t, err)

	_, err = e.regs.Approve(context.Background(), reg.ID, ownerID)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RegistrationConfirmed, conflict.Current)
}

// A rejected registration releases its seat and the same user may
// register again.
func TestReject_ReleasesSlot(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withManualApproval(), withCapacity(1))

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	rejected, err := e.regs.Reject(context.Background(), reg.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationRejected, rejected.RegistrationStatus)
	assert.Equal(t, model.ApprovalRejected, rejected.ApprovalStatus)
	assert.Equal(t, 1, e.sender.count("user-1", email.TemplateRegistrationRejected))

	again, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationPendingApproval, again.RegistrationStatus)
}

func TestReject_FromConfirmed_StateConflict(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	_, err = e.regs.Reject(context.Background(), reg.ID, ownerID)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RegistrationConfirmed, conflict.Current)
}

func TestCancel_OnlyOwnUser(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	_, err = e.regs.Cancel(context.Background(), reg.ID, "user-2")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancel_ReleasesSlot(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withCapacity(1))

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	cancelled, err := e.regs.Cancel(context.Background(), reg.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationCancelled, cancelled.RegistrationStatus)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = e.regs.Register(context.Background(), ev.ID, "user-2")
	assert.NoError(t, err, "cancellation frees the seat")
}

func TestCancel_Twice_StateConflict(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)
	_, err = e.regs.Cancel(context.Background(), reg.ID, "user-1")
	require.NoError(t, err)

	_, err = e.regs.Cancel(context.Background(), reg.ID, "user-1")
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RegistrationCancelled, conflict.Current)
}

func TestGet_OwnerAndOrganizerOnly(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	_, err = e.regs.Get(context.Background(), reg.ID, "user-1")
	assert.NoError(t, err)

	_, err = e.regs.Get(context.Background(), reg.ID, ownerID)
	assert.NoError(t, err)

	_, err = e.regs.Get(context.Background(), reg.ID, "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListByEvent_OwnerGated(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()

	_, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)
	_, err = e.regs.Register(context.Background(), ev.ID, "user-2")
	require.NoError(t, err)

	regs, err := e.regs.ListByEvent(context.Background(), ev.ID, ownerID)
	require.NoError(t, err)
	assert.Len(t, regs, 2)

	_, err = e.regs.ListByEvent(context.Background(), ev.ID, "user-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

// A failed confirmation email must not fail the registration.
func TestRegister_EmailFailureDoesNotFailRegistration(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent()
	e.sender.failFor["user-1"] = true

	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationConfirmed, reg.RegistrationStatus)
}
