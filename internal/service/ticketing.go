package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/qr"
	"github.com/gatherly/attendance/internal/ticket"
)

// Ticketing issues tickets for registrations that reach confirmed.
// Three paths can trigger issuance (automated create, manual approve,
// payment settlement); the store's set-if-empty guard makes them
// converge on a single ticket.
type Ticketing struct {
	signer *ticket.Signer
	qr     qr.Generator
	regs   RegistrationStore
}

// NewTicketing constructs a Ticketing helper.
func NewTicketing(signer *ticket.Signer, gen qr.Generator, regs RegistrationStore) *Ticketing {
	if gen == nil {
		gen = qr.NoopGenerator{}
	}
	return &Ticketing{signer: signer, qr: gen, regs: regs}
}

// EnsureTicket mints a ticket number and check-in token for reg if it
// does not have one yet, and updates reg in place. A QR rendering
// failure is logged and does not fail issuance; the raw token remains
// usable.
func (t *Ticketing) EnsureTicket(ctx context.Context, reg *model.Registration) error {
	if reg.TicketNumber != "" {
		return nil
	}
	number, err := ticket.Issue()
	if err != nil {
		return fmt.Errorf("issue ticket number: %w", err)
	}
	token, err := t.signer.Mint(ticket.Claims{
		TicketNumber:   number,
		EventID:        reg.EventID,
		UserID:         reg.UserID,
		RegistrationID: reg.ID,
	})
	if err != nil {
		return fmt.Errorf("mint check-in token: %w", err)
	}

	qrURL, err := t.qr.Render(ctx, token)
	if err != nil {
		slog.Error("qr render failed, continuing without image",
			"registration_id", reg.ID, "error", err)
		qrURL = ""
	}

	set, err := t.regs.SetTicket(ctx, reg.ID, number, qrURL)
	if err != nil {
		return err
	}
	if !set {
		// Another path issued first; pick up its ticket.
		current, err := t.regs.GetRegistration(ctx, reg.ID)
		if err != nil {
			return err
		}
		reg.TicketNumber = current.TicketNumber
		reg.QRCodeURL = current.QRCodeURL
		return nil
	}
	reg.TicketNumber = number
	reg.QRCodeURL = qrURL
	return nil
}

// MintToken re-mints the check-in token for an already-issued ticket,
// so a user can re-fetch their QR payload.
func (t *Ticketing) MintToken(reg *model.Registration) (string, error) {
	if reg.TicketNumber == "" {
		return "", Validationf("registration %s has no ticket", reg.ID)
	}
	return t.signer.Mint(ticket.Claims{
		TicketNumber:   reg.TicketNumber,
		EventID:        reg.EventID,
		UserID:         reg.UserID,
		RegistrationID: reg.ID,
	})
}
