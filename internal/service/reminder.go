package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatherly/attendance/internal/email"
	"github.com/gatherly/attendance/internal/model"
)

// ReminderService sends once-only reminders to confirmed attendees of
// upcoming events, at 24h and 1h before start.
type ReminderService struct {
	events EventStore
	regs   RegistrationStore
	email  email.Sender
	now    func() time.Time
}

// NewReminderService constructs a ReminderService. now may be nil, in
// which case time.Now is used.
func NewReminderService(events EventStore, regs RegistrationStore, sender email.Sender, now func() time.Time) *ReminderService {
	if sender == nil {
		sender = email.LogSender{}
	}
	if now == nil {
		now = time.Now
	}
	return &ReminderService{events: events, regs: regs, email: sender, now: now}
}

func templateFor(window model.ReminderWindow) string {
	if window == model.Reminder1h {
		return email.TemplateReminder1h
	}
	return email.TemplateReminder24h
}

// Sweep runs one reminder pass for the given window: published events
// starting within ±1h of now+threshold, confirmed registrations whose
// sent flag is still false. A failed send is counted and logged but
// never aborts the rest of the sweep; its flag stays false so a later
// sweep retries. The flag is claimed with a conditional update after a
// successful send, so overlapping sweeps converge on one flag write
// (the send itself is at-least-once).
func (s *ReminderService) Sweep(ctx context.Context, window model.ReminderWindow) (*model.SweepReport, error) {
	report := &model.SweepReport{Threshold: window.Duration()}

	target := s.now().Add(window.Duration())
	from := target.Add(-time.Hour)
	to := target.Add(time.Hour)

	events, err := s.events.EventsStartingBetween(ctx, from, to)
	if err != nil {
		return report, err
	}

	for _, ev := range events {
		due, err := s.regs.ListDueReminders(ctx, ev.ID, window)
		if err != nil {
			slog.Error("reminder sweep: list attendees failed",
				"event_id", ev.ID, "window", window, "error", err)
			continue
		}
		for _, reg := range due {
			report.Attempted++
			err := s.email.Send(ctx, reg.UserID, templateFor(window), map[string]any{
				"event_title": ev.Title,
				"starts_at":   ev.StartDatetime,
			})
			if err != nil {
				report.Failed++
				slog.Error("reminder send failed",
					"registration_id", reg.ID, "window", window, "error", err)
				continue
			}
			claimed, err := s.regs.ClaimReminderFlag(ctx, reg.ID, window)
			if err != nil {
				// The mail went out but the flag stayed false, so a
				// later sweep will send again. Count it as a failure of
				// this pass rather than an effective send.
				report.Failed++
				slog.Error("reminder flag write failed",
					"registration_id", reg.ID, "window", window, "error", err)
				continue
			}
			if !claimed {
				report.Duplicate++
				slog.Warn("reminder flag already claimed by another sweep",
					"registration_id", reg.ID, "window", window)
				continue
			}
			report.Sent++
		}
	}

	slog.Info("reminder sweep done",
		"window", window,
		"attempted", report.Attempted,
		"sent", report.Sent,
		"duplicate", report.Duplicate,
		"failed", report.Failed)
	return report, nil
}

// Run sweeps both windows on a fixed cadence until ctx is cancelled.
func (s *ReminderService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, window := range []model.ReminderWindow{model.Reminder24h, model.Reminder1h} {
			if _, err := s.Sweep(ctx, window); err != nil {
				slog.Error("reminder sweep failed", "window", window, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
