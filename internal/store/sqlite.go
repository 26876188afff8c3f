// Package store provides storage backends for UssdPipe borrower records.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/UssdPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists borrower records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path; missing parent directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// GetUserByPhone returns the registered user, or (nil, nil) when absent.
func (s *SQLiteStore) GetUserByPhone(phoneNumber string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(
		`SELECT phone_number, full_name, id_number, balance, loan_limit, created_at FROM users WHERE phone_number = ?`,
		phoneNumber,
	).Scan(&user.PhoneNumber, &user.FullName, &user.IDNumber, &user.Balance, &user.LoanLimit, &user.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.GetUserByPhone not found", "phone", phoneNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetUserByPhone failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("query user %s: %w", phoneNumber, err)
	}
	return &user, nil
}

// SaveUser inserts or replaces a user record.
func (s *SQLiteStore) SaveUser(user models.User) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO users (phone_number, full_name, id_number, balance, loan_limit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.PhoneNumber, user.FullName, user.IDNumber, user.Balance, user.LoanLimit, user.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveUser failed", "error", err, "phone", user.PhoneNumber)
		return fmt.Errorf("save user %s: %w", user.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore.SaveUser succeeded", "phone", user.PhoneNumber)
	return nil
}

// CreateLoan records a new loan application.
func (s *SQLiteStore) CreateLoan(loan models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.PhoneNumber, loan.Amount, loan.PeriodDays, loan.PeriodLabel,
		loan.Rate, loan.Interest, loan.TotalRepayment, loan.Status, loan.AppliedAt, loan.ApprovedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateLoan failed", "error", err, "loanID", loan.ID)
		return fmt.Errorf("insert loan %s: %w", loan.ID, err)
	}
	slog.Debug("SQLiteStore.CreateLoan succeeded", "loanID", loan.ID, "phone", loan.PhoneNumber)
	return nil
}

// GetLoansByPhone returns the borrower's loans in application order.
func (s *SQLiteStore) GetLoansByPhone(phoneNumber string) ([]models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at
		 FROM loans WHERE phone_number = ? ORDER BY applied_at`,
		phoneNumber,
	)
	if err != nil {
		slog.Error("SQLiteStore.GetLoansByPhone query failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("query loans for %s: %w", phoneNumber, err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			slog.Error("SQLiteStore.GetLoansByPhone scan failed", "error", err)
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.GetLoansByPhone rows iteration failed", "error", err)
		return nil, fmt.Errorf("iterate loan rows: %w", err)
	}
	return loans, nil
}

// GetLoansByStatus returns all loans in the given lifecycle state, in
// application order.
func (s *SQLiteStore) GetLoansByStatus(status models.LoanStatus) ([]models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at
		 FROM loans WHERE status = ? ORDER BY applied_at`,
		status,
	)
	if err != nil {
		slog.Error("SQLiteStore.GetLoansByStatus query failed", "error", err, "status", status)
		return nil, fmt.Errorf("query loans with status %s: %w", status, err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			slog.Error("SQLiteStore.GetLoansByStatus scan failed", "error", err)
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.GetLoansByStatus rows iteration failed", "error", err)
		return nil, fmt.Errorf("iterate loan rows: %w", err)
	}
	return loans, nil
}

// ApproveLoan marks the loan approved and credits the borrower's balance in
// one transaction.
func (s *SQLiteStore) ApproveLoan(loanID string) (*models.Loan, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin approve transaction: %w", err)
	}
	defer tx.Rollback()

	var loan models.Loan
	var approvedAt sql.NullTime
	err = tx.QueryRow(
		`SELECT id, phone_number, amount, period_days, period_label, rate, interest, total_repayment, status, applied_at, approved_at
		 FROM loans WHERE id = ?`,
		loanID,
	).Scan(&loan.ID, &loan.PhoneNumber, &loan.Amount, &loan.PeriodDays, &loan.PeriodLabel,
		&loan.Rate, &loan.Interest, &loan.TotalRepayment, &loan.Status, &loan.AppliedAt, &approvedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %s not found", loanID)
	}
	if err != nil {
		slog.Error("SQLiteStore.ApproveLoan query failed", "error", err, "loanID", loanID)
		return nil, fmt.Errorf("query loan %s: %w", loanID, err)
	}

	now := timeNow()
	if _, err := tx.Exec(`UPDATE loans SET status = ?, approved_at = ? WHERE id = ?`, models.LoanStatusApproved, now, loanID); err != nil {
		slog.Error("SQLiteStore.ApproveLoan update failed", "error", err, "loanID", loanID)
		return nil, fmt.Errorf("approve loan %s: %w", loanID, err)
	}
	if _, err := tx.Exec(`UPDATE users SET balance = balance + ? WHERE phone_number = ?`, loan.Amount, loan.PhoneNumber); err != nil {
		slog.Error("SQLiteStore.ApproveLoan balance credit failed", "error", err, "loanID", loanID)
		return nil, fmt.Errorf("credit balance for %s: %w", loan.PhoneNumber, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approve transaction: %w", err)
	}

	loan.Status = models.LoanStatusApproved
	loan.ApprovedAt = &now
	slog.Debug("SQLiteStore.ApproveLoan succeeded", "loanID", loanID, "amount", loan.Amount)
	return &loan, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
