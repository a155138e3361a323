// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatherly/attendance/internal/model"
	"github.com/gatherly/attendance/internal/repository"
	"github.com/gatherly/attendance/internal/service"
)

// SignatureHeader carries the provider's HMAC over the raw webhook
// body.
const SignatureHeader = "X-Paystack-Signature"

// Handler holds all HTTP handlers for the attendance API.
type Handler struct {
	regs     *service.RegistrationService
	checkin  *service.CheckinService
	payments *service.PaymentService
	tickets  *service.Ticketing
}

// New constructs a Handler.
func New(regs *service.RegistrationService, checkin *service.CheckinService, payments *service.PaymentService, tickets *service.Ticketing) *Handler {
	return &Handler{regs: regs, checkin: checkin, payments: payments, tickets: tickets}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Reason: reason})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// checkInRejection is the error payload for a refused check-in. For
// already_checked_in it includes who was admitted and when.
type checkInRejection struct {
	Admitted bool                   `json:"admitted"`
	Reason   string                 `json:"reason"`
	Status   string                 `json:"status,omitempty"`
	Attendee *model.AttendeeSummary `json:"attendee,omitempty"`
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *service.ValidationError
		admission  *service.AdmissionError
		conflict   *service.StateConflictError
		checkErr   *service.CheckInError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Msg, "")
	case errors.As(err, &admission):
		writeError(w, http.StatusConflict, admission.Error(), string(admission.Reason))
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error(), "state_conflict")
	case errors.As(err, &checkErr):
		writeJSON(w, http.StatusConflict, checkInRejection{
			Admitted: false,
			Reason:   string(checkErr.Reason),
			Status:   string(checkErr.Status),
			Attendee: checkErr.Attendee,
		})
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, service.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, err.Error(), "already_paid")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// ─── Registration lifecycle ───────────────────────────────────────────────────

// registrationResponse wraps a registration with its provisional flag
// so paid-but-unsettled seats are visible to callers.
type registrationResponse struct {
	Registration *model.Registration `json:"registration"`
	Provisional  bool                `json:"provisional"`
}

// Register handles POST /events/{id}/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	userID := UserID(r.Context())

	reg, err := h.regs.Register(r.Context(), eventID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registrationResponse{
		Registration: reg,
		Provisional:  reg.Provisional(),
	})
}

// GetRegistration handles GET /registrations/{id}
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.Get(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationResponse{
		Registration: reg,
		Provisional:  reg.Provisional(),
	})
}

// Approve handles POST /registrations/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.Approve(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Reject handles POST /registrations/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.Reject(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Cancel handles POST /registrations/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.Cancel(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ListRegistrations handles GET /events/{id}/registrations
// Owner-only attendee list.
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.regs.ListByEvent(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// Ticket handles GET /registrations/{id}/ticket
// Re-mints the check-in token so the attendee can re-fetch their QR
// payload.
func (h *Handler) Ticket(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.Get(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	token, err := h.tickets.MintToken(reg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ticket_number": reg.TicketNumber,
		"token":         token,
		"qr_code_url":   reg.QRCodeURL,
	})
}

// ─── Check-in ─────────────────────────────────────────────────────────────────

type checkInRequest struct {
	Token string `json:"token"`
}

// CheckIn handles POST /events/{id}/checkin
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required", "")
		return
	}

	attendee, err := h.checkin.VerifyCheckIn(r.Context(), chi.URLParam(r, "id"), req.Token, UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"admitted": true,
		"attendee": attendee,
	})
}

// Stats handles GET /events/{id}/checkin/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.checkin.Stats(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ─── Payments ─────────────────────────────────────────────────────────────────

// InitializePayment handles POST /registrations/{id}/payment
func (h *Handler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	payment, checkout, err := h.payments.InitializePayment(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment":  payment,
		"checkout": checkout,
	})
}

// VerifyPayment handles GET /payments/verify/{reference}
// The client-initiated poll after returning from hosted checkout.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	outcome, payment, err := h.payments.ReconcilePoll(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": outcome,
		"payment": payment,
	})
}

// Webhook handles POST /webhooks/payment
// The provider's asynchronous completion signal. Nothing here is
// surfaced to an end user: processing errors are logged, and a 2xx is
// only withheld where a redelivery can help.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body", "")
		return
	}

	outcome, _, err := h.payments.ReconcileWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			slog.Warn("webhook rejected: invalid signature")
			writeError(w, http.StatusUnauthorized, "invalid signature", "")
		case errors.Is(err, repository.ErrNotFound):
			// Not a reference we issued; acknowledge so the provider
			// stops redelivering.
			slog.Warn("webhook for unknown reference ignored")
			w.WriteHeader(http.StatusOK)
		default:
			var validation *service.ValidationError
			if errors.As(err, &validation) {
				slog.Warn("webhook payload rejected", "error", err)
				writeError(w, http.StatusBadRequest, validation.Msg, "")
				return
			}
			slog.Error("webhook processing failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
