// Package models defines the lending domain records persisted by the store.
package models

import "time"

// LoanStatus represents the lifecycle state of a loan.
type LoanStatus string

const (
	// LoanStatusPending indicates an application awaiting approval.
	LoanStatusPending LoanStatus = "pending"
	// LoanStatusApproved indicates an approved, disbursed loan.
	LoanStatusApproved LoanStatus = "approved"
	// LoanStatusActive indicates a running loan awaiting repayment.
	LoanStatusActive LoanStatus = "active"
	// LoanStatusRepaid indicates a fully repaid loan.
	LoanStatusRepaid LoanStatus = "repaid"
)

// User is a registered borrower, keyed by phone number.
type User struct {
	PhoneNumber string    `json:"phone_number"`
	FullName    string    `json:"full_name"`
	IDNumber    string    `json:"id_number"`
	Balance     float64   `json:"balance"`
	LoanLimit   float64   `json:"loan_limit"`
	CreatedAt   time.Time `json:"created_at"`
}

// Loan is one loan application and its repayment terms.
type Loan struct {
	ID             string     `json:"id"`
	PhoneNumber    string     `json:"phone_number"`
	Amount         float64    `json:"amount"`
	PeriodDays     int        `json:"period_days"`
	PeriodLabel    string     `json:"period_label"`
	Rate           float64    `json:"rate"`
	Interest       float64    `json:"interest"`
	TotalRepayment float64    `json:"total_repayment"`
	Status         LoanStatus `json:"status"`
	AppliedAt      time.Time  `json:"applied_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
}

// Open reports whether the loan still blocks a new application.
func (l *Loan) Open() bool {
	return l.Status == LoanStatusActive || l.Status == LoanStatusPending
}
