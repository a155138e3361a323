package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/attendance/internal/memstore"
	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/provider"
	"github.com/gatherly/attendance/internal/ticket"
)

const (
	testSecret   = "test-signing-secret"
	testProvider = "test-webhook-secret"
	ownerID      = "owner-1"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

// sentEmail records one capture-sender delivery.
type sentEmail struct {
	Recipient string
	Template  string
	Data      map[string]any
}

// captureSender records sends and can be told to fail per recipient.
type captureSender struct {
	mu      sync.Mutex
	sent    []sentEmail
	failFor map[string]bool
}

func newCaptureSender() *captureSender {
	return &captureSender{failFor: make(map[string]bool)}
}

func (c *captureSender) Send(_ context.Context, recipient, template string, data map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFor[recipient] {
		return fmt.Errorf("smtp refused %s", recipient)
	}
	c.sent = append(c.sent, sentEmail{Recipient: recipient, Template: template, Data: data})
	return nil
}

func (c *captureSender) count(recipient, template string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.sent {
		if e.Recipient == recipient && e.Template == template {
			n++
		}
	}
	return n
}

// fakeProvider answers Verify with a fixed status.
type fakeProvider struct {
	mu           sync.Mutex
	verifyStatus string
	amount       int64
	verifyErr    error
}

func (f *fakeProvider) Initialize(_ context.Context, _ string, amount int64, _ string, reference string) (*provider.Checkout, error) {
	return &provider.Checkout{
		AuthorizationURL: "https://checkout.example/" + reference,
		AccessCode:       "ac_" + reference,
		Reference:        reference,
	}, nil
}

func (f *fakeProvider) Verify(_ context.Context, reference string) (*provider.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &provider.VerifyResult{
		Reference: reference,
		Status:    f.verifyStatus,
		Amount:    f.amount,
	}, nil
}

// env bundles the memstore-backed services under test.
type env struct {
	store     *memstore.Store
	sender    *captureSender
	provider  *fakeProvider
	signer    *ticket.Signer
	ticketing *Ticketing
	regs      *RegistrationService
	checkin   *CheckinService
	payments  *PaymentService
	reminders *ReminderService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := memstore.New()
	sender := newCaptureSender()
	prov := &fakeProvider{verifyStatus: "success", amount: 5000}
	signer, err := ticket.NewSigner(testSecret, func() time.Time { return testNow })
	require.NoError(t, err)

	ticketing := NewTicketing(signer, nil, store)
	now := func() time.Time { return testNow }

	return &env{
		store:     store,
		sender:    sender,
		provider:  prov,
		signer:    signer,
		ticketing: ticketing,
		regs:      NewRegistrationService(store, store, ticketing, sender, now),
		checkin:   NewCheckinService(store, store, signer, now),
		payments:  NewPaymentService(store, store, store, prov, ticketing, sender, testProvider, now),
		reminders: NewReminderService(store, store, sender, now),
	}
}

type eventOpt func(*model.Event)

func withCapacity(n int) eventOpt {
	return func(ev *model.Event) { ev.CapacityLimit = &n }
}

func withManualApproval() eventOpt {
	return func(ev *model.Event) { ev.ApprovalMode = model.ApprovalManual }
}

func withPrice(amount int64, currency string) eventOpt {
	return func(ev *model.Event) {
		ev.IsFree = false
		ev.Price = amount
		ev.Currency = currency
	}
}

func withStatus(s model.EventStatus) eventOpt {
	return func(ev *model.Event) { ev.Status = s }
}

func withStart(t time.Time) eventOpt {
	return func(ev *model.Event) {
		ev.StartDatetime = t
		ev.EndDatetime = t.Add(2 * time.Hour)
	}
}

func withDeadline(t time.Time) eventOpt {
	return func(ev *model.Event) { ev.RegistrationDeadline = &t }
}

func (e *env) putEvent(opts ...eventOpt) model.Event {
	ev := model.Event{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		Title:         "Go Meetup",
		Status:        model.EventPublished,
		StartDatetime: testNow.Add(48 * time.Hour),
		EndDatetime:   testNow.Add(50 * time.Hour),
		ApprovalMode:  model.ApprovalAutomated,
		IsFree:        true,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	e.store.PutEvent(ev)
	return ev
}
