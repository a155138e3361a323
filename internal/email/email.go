// Package email defines the outbound notification contract. Delivery
// is a collaborator concern; failures are reported per recipient and
// never roll back the state change that triggered the send.
package email

import (
	"context"
	"log/slog"
)

// Template keys understood by the rendering collaborator.
const (
	TemplateRegistrationConfirmed = "registration_confirmed"
	TemplateRegistrationPending   = "registration_pending"
	TemplateRegistrationApproved  = "registration_approved"
	TemplateRegistrationRejected  = "registration_rejected"
	TemplatePaymentReceipt        = "payment_receipt"
	TemplateReminder24h           = "reminder_24h"
	TemplateReminder1h            = "reminder_1h"
)

// Sender delivers one templated email to one recipient. The recipient
// is the user's opaque identity; the delivery collaborator resolves it
// to an address.
type Sender interface {
	Send(ctx context.Context, recipient, templateKey string, data map[string]any) error
}

// LogSender logs sends instead of delivering them. Default in local
// development and tests.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(_ context.Context, recipient, templateKey string, data map[string]any) error {
	slog.Info("email send (log only)",
		"recipient", recipient, "template", templateKey, "data", data)
	return nil
}
