package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/attendance/internal/email"
	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/provider"
)

// ReconcileOutcome is the result of processing a payment completion
// signal. AlreadyConfirmed is a defined success, not an error: it is
// what the losing side of a poll/webhook race observes.
type ReconcileOutcome string

const (
	OutcomeConfirmed        ReconcileOutcome = "confirmed"
	OutcomeAlreadyConfirmed ReconcileOutcome = "already_confirmed"
	OutcomeFailed           ReconcileOutcome = "failed"
	OutcomePending          ReconcileOutcome = "pending"
)

// ReconcileSource identifies which channel delivered the signal.
type ReconcileSource string

const (
	SourcePoll    ReconcileSource = "poll"
	SourceWebhook ReconcileSource = "webhook"
)

const providerName = "paystack"

// PaymentService initializes provider checkouts and reconciles the two
// independent completion signals (user poll, provider webhook) into
// exactly one terminal payment state.
type PaymentService struct {
	events        EventStore
	regs          RegistrationStore
	payments      PaymentStore
	provider      PaymentProvider
	ticketing     *Ticketing
	email         email.Sender
	webhookSecret string
	now           func() time.Time
}

// NewPaymentService constructs a PaymentService. now may be nil, in
// which case time.Now is used.
func NewPaymentService(events EventStore, regs RegistrationStore, payments PaymentStore, prov PaymentProvider, ticketing *Ticketing, sender email.Sender, webhookSecret string, now func() time.Time) *PaymentService {
	if sender == nil {
		sender = email.LogSender{}
	}
	if now == nil {
		now = time.Now
	}
	return &PaymentService{
		events: events, regs: regs, payments: payments,
		provider: prov, ticketing: ticketing, email: sender,
		webhookSecret: webhookSecret, now: now,
	}
}

// InitializePayment creates the pending payment row and starts a
// hosted checkout session with the provider. The generated reference
// is the idempotency key for everything that follows.
func (s *PaymentService) InitializePayment(ctx context.Context, registrationID, userID string) (*model.Payment, *provider.Checkout, error) {
	reg, err := s.regs.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, nil, err
	}
	if reg.UserID != userID {
		return nil, nil, ErrForbidden
	}
	ev, err := s.events.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, nil, err
	}
	if ev.IsFree {
		return nil, nil, Validationf("event %s is free, nothing to pay", ev.ID)
	}
	if reg.PaymentStatus == model.PaymentPaid {
		return nil, nil, ErrAlreadyPaid
	}
	if !reg.RegistrationStatus.Active() {
		return nil, nil, &StateConflictError{
			RegistrationID: reg.ID,
			Current:        reg.RegistrationStatus,
			Attempted:      "pay for",
		}
	}

	payment := &model.Payment{
		ID:                uuid.New().String(),
		RegistrationID:    reg.ID,
		EventID:           ev.ID,
		UserID:            userID,
		Amount:            ev.Price,
		Currency:          ev.Currency,
		Provider:          providerName,
		ProviderReference: uuid.New().String(),
		Status:            model.TxnPending,
		CreatedAt:         s.now(),
	}
	if err := s.payments.CreatePayment(ctx, payment); err != nil {
		return nil, nil, err
	}

	checkout, err := s.provider.Initialize(ctx, userID, payment.Amount, payment.Currency, payment.ProviderReference)
	if err != nil {
		// The pending row stays; the user retries with a fresh call
		// and a fresh reference.
		return nil, nil, fmt.Errorf("initialize checkout: %w", err)
	}
	return payment, checkout, nil
}

// ReconcilePoll handles the user-initiated verification path: ask the
// provider for the transaction's current status and converge on it.
func (s *PaymentService) ReconcilePoll(ctx context.Context, reference string) (ReconcileOutcome, *model.Payment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", nil, Validationf("payment reference is required")
	}

	payment, err := s.payments.GetPaymentByReference(ctx, reference)
	if err != nil {
		return "", nil, err
	}
	// Idempotent no-op: a settled payment is never re-mutated.
	if payment.Status.Terminal() {
		return terminalOutcome(payment.Status), payment, nil
	}

	result, err := s.provider.Verify(ctx, reference)
	if err != nil {
		return "", nil, fmt.Errorf("verify with provider: %w", err)
	}
	status, err := model.ParseTxnStatus(result.Status)
	if err != nil {
		return "", nil, fmt.Errorf("poll reconcile: %w", err)
	}
	if !status.Terminal() {
		return OutcomePending, payment, nil
	}
	return s.settle(ctx, payment, status, nil, SourcePoll)
}

// ReconcileWebhook handles the provider-pushed path. The signature
// over the raw body must verify before any state is touched.
func (s *PaymentService) ReconcileWebhook(ctx context.Context, body []byte, signature string) (ReconcileOutcome, *model.Payment, error) {
	if !provider.ValidSignature(s.webhookSecret, body, signature) {
		return "", nil, ErrInvalidSignature
	}

	var event provider.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return "", nil, Validationf("malformed webhook payload: %v", err)
	}
	if event.Data.Reference == "" {
		return "", nil, Validationf("webhook payload missing reference")
	}

	payment, err := s.payments.GetPaymentByReference(ctx, event.Data.Reference)
	if err != nil {
		return "", nil, err
	}
	if payment.Status.Terminal() {
		return terminalOutcome(payment.Status), payment, nil
	}

	status, err := model.ParseTxnStatus(event.Data.Status)
	if err != nil {
		return "", nil, fmt.Errorf("webhook reconcile: %w", err)
	}
	if !status.Terminal() {
		return OutcomePending, payment, nil
	}
	return s.settle(ctx, payment, status, body, SourceWebhook)
}

// settle performs the single pending → terminal transition and, on
// success, cascades onto the registration. The conditional update on
// status = pending means a racing poll and webhook cannot both win:
// the loser observes the terminal state the winner wrote.
func (s *PaymentService) settle(ctx context.Context, payment *model.Payment, status model.TxnStatus, metadata []byte, source ReconcileSource) (ReconcileOutcome, *model.Payment, error) {
	now := s.now()
	won, err := s.payments.SettlePayment(ctx, payment.ProviderReference, status, metadata, now)
	if err != nil {
		return "", nil, err
	}
	if !won {
		current, err := s.payments.GetPaymentByReference(ctx, payment.ProviderReference)
		if err != nil {
			return "", nil, err
		}
		return terminalOutcome(current.Status), current, nil
	}

	payment.Status = status
	payment.SettledAt = &now

	if status == model.TxnSuccessful {
		credited, err := s.regs.MarkPaid(ctx, payment.RegistrationID, payment.Amount, now)
		if err != nil {
			return "", nil, err
		}
		if !credited {
			// The registration reached a terminal state (or was paid
			// through another payment) before this signal landed. The
			// payment stays settled; the seat is not resurrected.
			slog.Warn("payment settled for non-live registration, credit orphaned",
				"reference", payment.ProviderReference,
				"registration_id", payment.RegistrationID,
				"source", source)
			return OutcomeConfirmed, payment, nil
		}
		reg, err := s.regs.GetRegistration(ctx, payment.RegistrationID)
		if err != nil {
			return "", nil, err
		}
		if err := s.ticketing.EnsureTicket(ctx, reg); err != nil {
			slog.Error("ticket issuance failed after payment",
				"registration_id", reg.ID, "error", err)
		}
		if err := s.email.Send(ctx, payment.UserID, email.TemplatePaymentReceipt, map[string]any{
			"amount":    payment.Amount,
			"currency":  payment.Currency,
			"reference": payment.ProviderReference,
		}); err != nil {
			slog.Error("payment receipt send failed",
				"reference", payment.ProviderReference, "error", err)
		}
		slog.Info("payment settled",
			"reference", payment.ProviderReference, "source", source, "status", status)
		return OutcomeConfirmed, payment, nil
	}

	// Failed payment: the registration keeps its status so the user
	// can retry payment.
	if err := s.regs.MarkPaymentFailed(ctx, payment.RegistrationID); err != nil {
		return "", nil, err
	}
	slog.Info("payment settled",
		"reference", payment.ProviderReference, "source", source, "status", status)
	return OutcomeFailed, payment, nil
}

func terminalOutcome(status model.TxnStatus) ReconcileOutcome {
	if status == model.TxnSuccessful {
		return OutcomeAlreadyConfirmed
	}
	return OutcomeFailed
}
