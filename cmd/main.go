// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gatherly/attendance/internal/config"
	"github.com/gatherly/attendance/internal/database"
	"github.com/gatherly/attendance/internal/email"
	"github.com/gatherly/attendance/internal/handler"
	"github.com/gatherly/attendance/internal/provider"
	"github.com/gatherly/attendance/internal/qr"
	"github.com/gatherly/attendance/internal/repository"
	"github.com/gatherly/attendance/internal/service"
	"github.com/gatherly/attendance/internal/ticket"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL and bootstrap the schema ─────────────────
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		slog.Error("database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	signer, err := ticket.NewSigner(cfg.TicketSecret, nil)
	if err != nil {
		slog.Error("ticket signer", "error", err)
		os.Exit(1)
	}

	eventRepo := repository.NewEventRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	payRepo := repository.NewPaymentRepository(pool)

	sender := email.LogSender{}
	ticketing := service.NewTicketing(signer, qr.NoopGenerator{}, regRepo)
	payClient := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderSecret)

	regSvc := service.NewRegistrationService(eventRepo, regRepo, ticketing, sender, nil)
	checkinSvc := service.NewCheckinService(eventRepo, regRepo, signer, nil)
	paySvc := service.NewPaymentService(eventRepo, regRepo, payRepo, payClient, ticketing, sender, cfg.ProviderSecret, nil)
	reminderSvc := service.NewReminderService(eventRepo, regRepo, sender, nil)

	h := handler.New(regSvc, checkinSvc, paySvc, ticketing)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(handler.CORS)            // permissive CORS for browser clients

	r.Get("/health", handler.HealthCheck)

	// Provider-facing; authenticated by payload signature, not identity.
	r.Post("/webhooks/payment", h.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(handler.Identity)

		r.Route("/events/{id}", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Get("/registrations", h.ListRegistrations)
			r.Post("/checkin", h.CheckIn)
			r.Get("/checkin/stats", h.Stats)
		})
		r.Route("/registrations/{id}", func(r chi.Router) {
			r.Get("/", h.GetRegistration)
			r.Get("/ticket", h.Ticket)
			r.Post("/approve", h.Approve)
			r.Post("/reject", h.Reject)
			r.Post("/cancel", h.Cancel)
			r.Post("/payment", h.InitializePayment)
		})
		r.Get("/payments/verify/{reference}", h.VerifyPayment)
	})

	// ── 4. Start the reminder sweeper ─────────────────────────────────────
	go reminderSvc.Run(ctx, cfg.ReminderInterval)

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
