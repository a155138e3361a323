// Package memstore is an in-memory implementation of the service
// store interfaces. It honors the same atomic conditional-update
// contract as the pgx repository, with a single mutex standing in for
// the database's row serialization, so the test suite can exercise the
// real concurrency behavior without PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/repository"
)

// Store holds all state behind one mutex.
type Store struct {
	mu       sync.Mutex
	events   map[string]model.Event
	regs     map[string]*model.Registration
	payments map[string]*model.Payment // keyed by provider reference
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		events:   make(map[string]model.Event),
		regs:     make(map[string]*model.Registration),
		payments: make(map[string]*model.Payment),
	}
}

// PutEvent inserts or replaces an event snapshot. Stands in for the
// event CRUD collaborator.
func (s *Store) PutEvent(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
}

// GetEvent implements service.EventStore.
func (s *Store) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ev, nil
}

// EventsStartingBetween implements service.EventStore.
func (s *Store) EventsStartingBetween(_ context.Context, from, to time.Time) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, ev := range s.events {
		if ev.Status != model.EventPublished {
			continue
		}
		if ev.StartDatetime.Before(from) || ev.StartDatetime.After(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartDatetime.Before(out[j].StartDatetime)
	})
	return out, nil
}

// Reserve implements service.RegistrationStore. The duplicate and
// capacity checks and the insert all happen under the lock, like the
// repository's single transaction.
func (s *Store) Reserve(_ context.Context, reg *model.Registration, capacity *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[reg.EventID]; !ok {
		return repository.ErrNotFound
	}
	active := 0
	for _, r := range s.regs {
		if r.EventID != reg.EventID || !r.RegistrationStatus.Active() {
			continue
		}
		if r.UserID == reg.UserID {
			return repository.ErrAlreadyRegistered
		}
		active++
	}
	if capacity != nil && active >= *capacity {
		return repository.ErrEventFull
	}
	cp := *reg
	s.regs[reg.ID] = &cp
	return nil
}

// GetRegistration implements service.RegistrationStore.
func (s *Store) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

// ListByEvent implements service.RegistrationStore.
func (s *Store) ListByEvent(_ context.Context, eventID string) ([]model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Registration
	for _, reg := range s.regs {
		if reg.EventID == eventID {
			out = append(out, *reg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// Approve implements service.RegistrationStore.
func (s *Store) Approve(_ context.Context, id, approverID string, now time.Time) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok || reg.RegistrationStatus != model.RegistrationPendingApproval {
		return nil, repository.ErrStateConflict
	}
	reg.RegistrationStatus = model.RegistrationConfirmed
	reg.ApprovalStatus = model.ApprovalAccepted
	reg.ApprovedAt = &now
	reg.ApprovedByID = approverID
	cp := *reg
	return &cp, nil
}

// Reject implements service.RegistrationStore.
func (s *Store) Reject(_ context.Context, id, approverID string, now time.Time) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok || reg.RegistrationStatus != model.RegistrationPendingApproval {
		return nil, repository.ErrStateConflict
	}
	reg.RegistrationStatus = model.RegistrationRejected
	reg.ApprovalStatus = model.ApprovalRejected
	reg.ApprovedAt = &now
	reg.ApprovedByID = approverID
	cp := *reg
	return &cp, nil
}

// Cancel implements service.RegistrationStore.
func (s *Store) Cancel(_ context.Context, id string, now time.Time) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return nil, repository.ErrStateConflict
	}
	if reg.RegistrationStatus != model.RegistrationConfirmed &&
		reg.RegistrationStatus != model.RegistrationPendingApproval {
		return nil, repository.ErrStateConflict
	}
	reg.RegistrationStatus = model.RegistrationCancelled
	reg.CancelledAt = &now
	cp := *reg
	return &cp, nil
}

// SetTicket implements service.RegistrationStore.
func (s *Store) SetTicket(_ context.Context, id, ticketNumber, qrURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if reg.TicketNumber != "" {
		return false, nil
	}
	reg.TicketNumber = ticketNumber
	reg.QRCodeURL = qrURL
	return true, nil
}

// CheckIn implements service.RegistrationStore.
func (s *Store) CheckIn(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if reg.CheckedInAt != nil {
		return false, nil
	}
	reg.CheckedInAt = &now
	return true, nil
}

// MarkPaid implements service.RegistrationStore. Terminal
// registrations are left untouched: their seat is already released.
func (s *Store) MarkPaid(_ context.Context, id string, amount int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if reg.PaymentStatus == model.PaymentPaid {
		return false, nil
	}
	if reg.RegistrationStatus != model.RegistrationConfirmed &&
		reg.RegistrationStatus != model.RegistrationPendingApproval {
		return false, nil
	}
	reg.PaymentStatus = model.PaymentPaid
	reg.RegistrationStatus = model.RegistrationConfirmed
	reg.AmountPaid = amount
	reg.PaidAt = &now
	return true, nil
}

// MarkPaymentFailed implements service.RegistrationStore.
func (s *Store) MarkPaymentFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if reg.PaymentStatus == model.PaymentPending {
		reg.PaymentStatus = model.PaymentFailed
	}
	return nil
}

// ListDueReminders implements service.RegistrationStore.
func (s *Store) ListDueReminders(_ context.Context, eventID string, window model.ReminderWindow) ([]model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Registration
	for _, reg := range s.regs {
		if reg.EventID != eventID || reg.RegistrationStatus != model.RegistrationConfirmed {
			continue
		}
		if reminderSent(reg, window) {
			continue
		}
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// ClaimReminderFlag implements service.RegistrationStore.
func (s *Store) ClaimReminderFlag(_ context.Context, id string, window model.ReminderWindow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if reminderSent(reg, window) {
		return false, nil
	}
	if window == model.Reminder1h {
		reg.ReminderSent1h = true
	} else {
		reg.ReminderSent24h = true
	}
	return true, nil
}

func reminderSent(reg *model.Registration, window model.ReminderWindow) bool {
	if window == model.Reminder1h {
		return reg.ReminderSent1h
	}
	return reg.ReminderSent24h
}

// Stats implements service.RegistrationStore.
func (s *Store) Stats(_ context.Context, eventID string) (*model.CheckInStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &model.CheckInStats{EventID: eventID}
	for _, reg := range s.regs {
		if reg.EventID != eventID {
			continue
		}
		switch reg.RegistrationStatus {
		case model.RegistrationConfirmed:
			stats.Confirmed++
		case model.RegistrationPendingApproval:
			stats.PendingApproval++
		case model.RegistrationCancelled:
			stats.Cancelled++
		}
		if reg.CheckedInAt != nil {
			stats.CheckedIn++
		}
	}
	return stats, nil
}

// CreatePayment implements service.PaymentStore.
func (s *Store) CreatePayment(_ context.Context, p *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ProviderReference]; ok {
		return repository.ErrStateConflict
	}
	cp := *p
	s.payments[p.ProviderReference] = &cp
	return nil
}

// GetPaymentByReference implements service.PaymentStore.
func (s *Store) GetPaymentByReference(_ context.Context, reference string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SettlePayment implements service.PaymentStore.
func (s *Store) SettlePayment(_ context.Context, reference string, status model.TxnStatus, metadata []byte, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return false, repository.ErrNotFound
	}
	if p.Status != model.TxnPending {
		return false, nil
	}
	p.Status = status
	if metadata != nil {
		p.Metadata = metadata
	}
	p.SettledAt = &now
	return true, nil
}
