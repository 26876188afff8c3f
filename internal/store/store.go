// Package store provides storage backends for UssdPipe borrower records.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends selected by DSN at startup.
package store

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// Store is the borrower persistence contract consumed by the lending app.
// Lookup methods return (nil, nil) when no record exists.
type Store interface {
	GetUserByPhone(phoneNumber string) (*models.User, error)
	SaveUser(user models.User) error
	CreateLoan(loan models.Loan) error
	GetLoansByPhone(phoneNumber string) ([]models.Loan, error)
	GetLoansByStatus(status models.LoanStatus) ([]models.Loan, error)
	// ApproveLoan marks the loan approved and credits the amount to the
	// borrower's balance, atomically for SQL backends.
	ApproveLoan(loanID string) (*models.Loan, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths and
// anything not carrying PostgreSQL markers default to SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// New opens the store backend matching the configured DSN. An empty DSN
// yields the in-memory store.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.DSN == "" {
		slog.Debug("No DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}

	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Debug("Opening Postgres store")
		return NewPostgresStore(opts...)
	default:
		slog.Debug("Opening SQLite store", "path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}
