package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/attendance/internal/email"
	"github.com/gatherly/attendance/internal/model"
)

// Two back-to-back sweeps deliver exactly one reminder per attendee.
func TestSweep_SendsOnce(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withStart(testNow.Add(24 * time.Hour)))

	for _, user := range []string{"user-1", "user-2"} {
		_, err := e.regs.Register(context.Background(), ev.ID, user)
		require.NoError(t, err)
	}

	report, err := e.reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.Failed)

	report, err = e.reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted, "second sweep finds nothing due")

	assert.Equal(t, 1, e.sender.count("user-1", email.TemplateReminder24h))
	assert.Equal(t, 1, e.sender.count("user-2", email.TemplateReminder24h))
}

func TestSweep_WindowSelection(t *testing.T) {
	e := newEnv(t)

	inside := e.putEvent(withStart(testNow.Add(24*time.Hour + 30*time.Minute)))
	outside := e.putEvent(withStart(testNow.Add(30 * time.Hour)))
	e.putEvent(withStart(testNow.Add(24*time.Hour)), withStatus(model.EventDraft))

	_, err := e.regs.Register(context.Background(), inside.ID, "near")
	require.NoError(t, err)
	_, err = e.regs.Register(context.Background(), outside.ID, "far")
	require.NoError(t, err)

	report, err := e.reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, e.sender.count("near", email.TemplateReminder24h))
	assert.Equal(t, 0, e.sender.count("far", email.TemplateReminder24h))
}

// One attendee's send failure is isolated: the others still get their
// reminders, and the failed one is retried on the next sweep.
func TestSweep_FailureIsolation(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withStart(testNow.Add(24 * time.Hour)))

	for _, user := range []string{"ok-1", "broken", "ok-2"} {
		_, err := e.regs.Register(context.Background(), ev.ID, user)
		require.NoError(t, err)
	}
	e.sender.failFor["broken"] = true

	report, err := e.reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)

	// Delivery recovers; only the failed attendee is retried.
	delete(e.sender.failFor, "broken")
	report, err = e.reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Sent)

	for _, user := range []string{"ok-1", "broken", "ok-2"} {
		assert.Equal(t, 1, e.sender.count(user, email.TemplateReminder24h), user)
	}
}

// senderFunc adapts a function to email.Sender.
type senderFunc func(ctx context.Context, recipient, template string, data map[string]any) error

func (f senderFunc) Send(ctx context.Context, recipient, template string, data map[string]any) error {
	return f(ctx, recipient, template, data)
}

// An overlapping sweep claims the flag between this sweep's send and
// its own flag write. The mail went out twice, but only the sweep that
// won the claim counts an effective send; the loser reports a
// duplicate.
func TestSweep_LostClaimNotCountedAsSent(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withStart(testNow.Add(24 * time.Hour)))
	reg, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	racer := senderFunc(func(ctx context.Context, _, _ string, _ map[string]any) error {
		claimed, err := e.store.ClaimReminderFlag(ctx, reg.ID, model.Reminder24h)
		require.NoError(t, err)
		require.True(t, claimed, "the competing sweep wins the flag")
		return nil
	})
	reminders := NewReminderService(e.store, e.store, racer, func() time.Time { return testNow })

	report, err := reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 0, report.Sent, "a lost claim is not an effective send")
	assert.Equal(t, 1, report.Duplicate)
	assert.Equal(t, 0, report.Failed)

	// The flag is set either way; the next pass finds nothing due.
	report, err = reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
}

// The 24h and 1h flags are independent.
func TestSweep_WindowsIndependent(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withStart(testNow.Add(time.Hour)))

	_, err := e.regs.Register(context.Background(), ev.ID, "user-1")
	require.NoError(t, err)

	report, err := e.reminders.Sweep(context.Background(), model.Reminder1h)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, e.sender.count("user-1", email.TemplateReminder1h))

	// An event an hour out is also inside the 24h window's lower
	// bound only if it starts within [23h, 25h]; it does not.
	report, err = e.reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
}

// Only confirmed attendees are reminded.
func TestSweep_SkipsNonConfirmed(t *testing.T) {
	e := newEnv(t)
	ev := e.putEvent(withStart(testNow.Add(24*time.Hour)), withManualApproval())

	_, err := e.regs.Register(context.Background(), ev.ID, "pending-user")
	require.NoError(t, err)
	approved, err := e.regs.Register(context.Background(), ev.ID, "approved-user")
	require.NoError(t, err)
	_, err = e.regs.Approve(context.Background(), approved.ID, ownerID)
	require.NoError(t, err)

	report, err := e.reminders.Sweep(context.Background(), model.Reminder24h)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 0, e.sender.count("pending-user", email.TemplateReminder24h))
	assert.Equal(t, 1, e.sender.count("approved-user", email.TemplateReminder24h))
}
