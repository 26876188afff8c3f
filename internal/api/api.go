// Package api provides HTTP handlers and the main API server logic for UssdPipe.
//
// It exposes the gateway callback endpoints for the lending and event
// dialogues, a JSON simulator for development, and operational endpoints.
// The API integrates with the ussd engine, session, store and outbound
// notification modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/airtime"
	"github.com/BTreeMap/UssdPipe/internal/events"
	"github.com/BTreeMap/UssdPipe/internal/lending"
	"github.com/BTreeMap/UssdPipe/internal/scheduler"
	"github.com/BTreeMap/UssdPipe/internal/session"
	"github.com/BTreeMap/UssdPipe/internal/sms"
	"github.com/BTreeMap/UssdPipe/internal/store"
	"github.com/BTreeMap/UssdPipe/internal/ussd"
)

// Server configuration constants
const (
	// DefaultAddr is the default API server listen address.
	DefaultAddr = ":8080"
	// DefaultReadTimeout bounds reading one gateway callback.
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds writing one response.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	ReminderSchedule string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithReminderSchedule sets the cron expression for the repayment reminder
// job. An empty expression disables the job.
func WithReminderSchedule(expr string) Option {
	return func(o *Opts) { o.ReminderSchedule = expr }
}

// Server routes gateway callbacks to the dialogue engines.
type Server struct {
	addr          string
	lendingEngine *ussd.Engine
	eventEngine   *ussd.Engine
	eventsApp     *events.App
	httpServer    *http.Server
}

// NewServer creates an API server over pre-built engines.
func NewServer(lendingEngine, eventEngine *ussd.Engine, eventsApp *events.App, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating API server", "addr", cfg.Addr)
	return &Server{
		addr:          cfg.Addr,
		lendingEngine: lendingEngine,
		eventEngine:   eventEngine,
		eventsApp:     eventsApp,
	}
}

// routes builds the HTTP mux for the server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ussd", s.ussdHandler)
	mux.HandleFunc("/ussd/simulator", s.simulatorHandler)
	mux.HandleFunc("/ussd/event", s.eventHandler)
	mux.HandleFunc("/ussd/event/registrations", s.registrationsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("UssdPipe API running", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	return nil
}

// Run composes the full application and serves it until SIGINT or SIGTERM.
func Run(storeOpts []store.Option, sessionOpts []session.Option, apiOpts []Option) error {
	borrowers, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create borrower store: %w", err)
	}
	defer borrowers.Close()

	sessions, err := session.New(sessionOpts...)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer sessions.Close()

	// Outbound notification channels are optional; a lender without Twilio or
	// Africa's Talking credentials still serves the dialogue.
	var notifier lending.Notifier
	if smsClient, smsErr := sms.NewClient(); smsErr != nil {
		slog.Warn("SMS notifications disabled", "reason", smsErr)
	} else {
		notifier = smsClient
	}
	var disburser lending.Disburser
	if airtimeClient, atErr := airtime.NewClient(); atErr != nil {
		slog.Warn("Airtime disbursement disabled", "reason", atErr)
	} else {
		disburser = airtimeClient
	}

	lendingApp := lending.NewApp(borrowers, notifier, disburser)
	lendingRegistry, err := lendingApp.Registry()
	if err != nil {
		return fmt.Errorf("failed to build lending dialogue: %w", err)
	}

	eventsApp := events.NewApp()
	eventRegistry, err := eventsApp.Registry()
	if err != nil {
		return fmt.Errorf("failed to build event dialogue: %w", err)
	}

	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.ReminderSchedule != "" {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		err := sched.AddJob(cfg.ReminderSchedule, func() {
			if err := lendingApp.SendRepaymentReminders(context.Background()); err != nil {
				slog.Error("Repayment reminder job failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule repayment reminders: %w", err)
		}
		slog.Info("Repayment reminder job scheduled", "cron", cfg.ReminderSchedule)
	}

	server := NewServer(
		ussd.NewEngine(lendingRegistry, sessions),
		ussd.NewEngine(eventRegistry, sessions),
		eventsApp,
		apiOpts...,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}
