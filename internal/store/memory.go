package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// InMemoryStore keeps borrower records in process memory. It backs tests and
// development runs without a database DSN.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.User
	loans map[string]models.Loan
	order []string
}

// NewInMemoryStore creates an empty in-memory borrower store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("Creating InMemoryStore")
	return &InMemoryStore{
		users: make(map[string]models.User),
		loans: make(map[string]models.Loan),
	}
}

// GetUserByPhone returns the registered user, or (nil, nil) when absent.
func (s *InMemoryStore) GetUserByPhone(phoneNumber string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[phoneNumber]; ok {
		return &user, nil
	}
	return nil, nil
}

// SaveUser inserts or replaces a user record.
func (s *InMemoryStore) SaveUser(user models.User) error {
	s.mu.Lock()
	s.users[user.PhoneNumber] = user
	s.mu.Unlock()
	slog.Debug("InMemoryStore.SaveUser succeeded", "phone", user.PhoneNumber)
	return nil
}

// CreateLoan records a new loan application.
func (s *InMemoryStore) CreateLoan(loan models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loans[loan.ID]; exists {
		return fmt.Errorf("loan %s already exists", loan.ID)
	}
	s.loans[loan.ID] = loan
	s.order = append(s.order, loan.ID)
	slog.Debug("InMemoryStore.CreateLoan succeeded", "loanID", loan.ID, "phone", loan.PhoneNumber, "amount", loan.Amount)
	return nil
}

// GetLoansByPhone returns the borrower's loans in application order.
func (s *InMemoryStore) GetLoansByPhone(phoneNumber string) ([]models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var loans []models.Loan
	for _, id := range s.order {
		if loan := s.loans[id]; loan.PhoneNumber == phoneNumber {
			loans = append(loans, loan)
		}
	}
	return loans, nil
}

// GetLoansByStatus returns all loans in the given lifecycle state, in
// application order.
func (s *InMemoryStore) GetLoansByStatus(status models.LoanStatus) ([]models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var loans []models.Loan
	for _, id := range s.order {
		if loan := s.loans[id]; loan.Status == status {
			loans = append(loans, loan)
		}
	}
	return loans, nil
}

// ApproveLoan marks the loan approved and credits the borrower's balance.
func (s *InMemoryStore) ApproveLoan(loanID string) (*models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[loanID]
	if !ok {
		return nil, fmt.Errorf("loan %s not found", loanID)
	}

	now := time.Now()
	loan.Status = models.LoanStatusApproved
	loan.ApprovedAt = &now
	s.loans[loanID] = loan

	if user, ok := s.users[loan.PhoneNumber]; ok {
		user.Balance += loan.Amount
		s.users[loan.PhoneNumber] = user
	}

	slog.Debug("InMemoryStore.ApproveLoan succeeded", "loanID", loanID, "amount", loan.Amount)
	return &loan, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
