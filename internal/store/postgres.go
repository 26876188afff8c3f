// Package store provides storage backends for UssdPipe borrower records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/UssdPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists borrower records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// GetUserByPhone returns the registered user, or (nil, nil) when absent.
func (s *PostgresStore) GetUserByPhone(phoneNumber string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(
		`SELECT phone_number, full_name, id_number, balance, loan_limit, created_at FROM users WHERE phone_number = $1`,
		phoneNumber,
	).Scan(&user.PhoneNumber, &user.FullName, &user.IDNumber, &user.Balance, &user.LoanLimit, &user.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.GetUserByPhone not found", "phone", phoneNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetUserByPhone failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("query user %s: %w", phoneNumber, err)
	}
	return &user, nil
}

// SaveUser inserts or updates a user record.
func (s *PostgresStore) SaveUser(user models.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (phone_number, full_name, id_number, balance, loan_limit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (phone_number) DO UPDATE SET
		   full_name = EXCLUDED.full_name,
		   id_number = EXCLUDED.id_number,
		   balance = EXCLUDED.balance,
		   loan_limit = EXCLUDED.loan_limit`,
		user.PhoneNumber, user.FullName, user.IDNumber, user.Balance, user.LoanLimit, user.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveUser failed", "error", err, "phone", user.PhoneNumber)
		return fmt.Errorf("save user %s: %w", user.PhoneNumber, err)
	}
	slog.Debug("PostgresStore.SaveUser succeeded", "phone", user.PhoneNumber)
	return nil
}

// CreateLoan records a new loan application.
func (s *PostgresStore) CreateLoan(loan models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		loan.ID, loan.PhoneNumber, loan.Amount, loan.PeriodDays, loan.PeriodLabel,
		loan.Rate, loan.Interest, loan.TotalRepayment, loan.Status, loan.AppliedAt, loan.ApprovedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateLoan failed", "error", err, "loanID", loan.ID)
		return fmt.Errorf("insert loan %s: %w", loan.ID, err)
	}
	slog.Debug("PostgresStore.CreateLoan succeeded", "loanID", loan.ID, "phone", loan.PhoneNumber)
	return nil
}

// GetLoansByPhone returns the borrower's loans in application order.
func (s *PostgresStore) GetLoansByPhone(phoneNumber string) ([]models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at
		 FROM loans WHERE phone_number = $1 ORDER BY applied_at`,
		phoneNumber,
	)
	if err != nil {
		slog.Error("PostgresStore.GetLoansByPhone query failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("query loans for %s: %w", phoneNumber, err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			slog.Error("PostgresStore.GetLoansByPhone scan failed", "error", err)
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.GetLoansByPhone rows iteration failed", "error", err)
		return nil, fmt.Errorf("iterate loan rows: %w", err)
	}
	return loans, nil
}

// GetLoansByStatus returns all loans in the given lifecycle state, in
// application order.
func (s *PostgresStore) GetLoansByStatus(status models.LoanStatus) ([]models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at
		 FROM loans WHERE status = $1 ORDER BY applied_at`,
		status,
	)
	if err != nil {
		slog.Error("PostgresStore.GetLoansByStatus query failed", "error", err, "status", status)
		return nil, fmt.Errorf("query loans with status %s: %w", status, err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			slog.Error("PostgresStore.GetLoansByStatus scan failed", "error", err)
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.GetLoansByStatus rows iteration failed", "error", err)
		return nil, fmt.Errorf("iterate loan rows: %w", err)
	}
	return loans, nil
}

// ApproveLoan marks the loan approved and credits the borrower's balance in
// one transaction.
func (s *PostgresStore) ApproveLoan(loanID string) (*models.Loan, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin approve transaction: %w", err)
	}
	defer tx.Rollback()

	var loan models.Loan
	var approvedAt sql.NullTime
	err = tx.QueryRow(
		`SELECT id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at
		 FROM loans WHERE id = $1 FOR UPDATE`,
		loanID,
	).Scan(&loan.ID, &loan.PhoneNumber, &loan.Amount, &loan.PeriodDays, &loan.PeriodLabel,
		&loan.Rate, &loan.Interest, &loan.TotalRepayment, &loan.Status, &loan.AppliedAt, &approvedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %s not found", loanID)
	}
	if err != nil {
		slog.Error("PostgresStore.ApproveLoan query failed", "error", err, "loanID", loanID)
		return nil, fmt.Errorf("query loan %s: %w", loanID, err)
	}

	now := timeNow()
	if _, err := tx.Exec(`UPDATE loans SET status = $1, approved_at = $2 WHERE id = $3`, models.LoanStatusApproved, now, loanID); err != nil {
		slog.Error("PostgresStore.ApproveLoan update failed", "error", err, "loanID", loanID)
		return nil, fmt.Errorf("approve loan %s: %w", loanID, err)
	}
	if _, err := tx.Exec(`UPDATE users SET balance = balance + $1 WHERE phone_number = $2`, loan.Amount, loan.PhoneNumber); err != nil {
		slog.Error("PostgresStore.ApproveLoan balance credit failed", "error", err, "loanID", loanID)
		return nil, fmt.Errorf("credit balance for %s: %w", loan.PhoneNumber, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approve transaction: %w", err)
	}

	loan.Status = models.LoanStatusApproved
	loan.ApprovedAt = &now
	slog.Debug("PostgresStore.ApproveLoan succeeded", "loanID", loanID, "amount", loan.Amount)
	return &loan, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres connection pool")
	return s.db.Close()
}
