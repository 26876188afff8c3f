// Package lending defines the QuickCash Loans dialogue on top of the USSD
// engine.
//
// The dialogue graph covers eligibility checking, borrower registration,
// loan application through approval, balance, history and repayment. The
// persistence store and the outbound notification collaborators are injected
// at construction; handler failures surface as generic END responses while
// notification failures only log.
package lending

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/models"
	"github.com/BTreeMap/UssdPipe/internal/store"
	"github.com/BTreeMap/UssdPipe/internal/ussd"
	"github.com/BTreeMap/UssdPipe/internal/util"
)

// Lending configuration constants
const (
	// DefaultLoanLimit is the starting borrowing limit for new users.
	DefaultLoanLimit = 5000
	// MinLoanAmount is the smallest loan the dialogue accepts.
	MinLoanAmount = 100
	// CurrencyCode labels all amounts in the dialogue.
	CurrencyCode = "NGN"
	// HistoryLimit caps the loans shown in the history screen.
	HistoryLimit = 5
)

// Session data keys
const (
	dataKeyFullName       = "fullName"
	dataKeyIDNumber       = "idNumber"
	dataKeyLoanLimit      = "loanLimit"
	dataKeyLoanAmount     = "loanAmount"
	dataKeyPeriodDays     = "periodDays"
	dataKeyPeriodLabel    = "periodLabel"
	dataKeyPeriodRate     = "periodRate"
	dataKeyInterest       = "interest"
	dataKeyTotalRepayment = "totalRepayment"
)

// State names
const (
	stateHome             = "home"
	stateCheckEligibility = "check_eligibility"
	stateRegisterPrompt   = "register_prompt"
	stateRegisterName     = "register_name"
	stateRegisterID       = "register_id"
	stateLoanAmount       = "loan_amount"
	stateLoanPeriod       = "loan_period"
	stateLoanConfirm      = "loan_confirm"
	stateCheckBalance     = "check_balance"
	stateLoanHistory      = "loan_history"
	stateRepayMenu        = "repay_menu"
	stateRepayFull        = "repay_full"
	stateRepayPartial     = "repay_partial"
	stateHelp             = "help"
)

var ninPattern = regexp.MustCompile(`^\d{11}$`)

// loanPeriod describes one selectable repayment term.
type loanPeriod struct {
	days  int
	rate  float64
	label string
}

var loanPeriods = map[string]loanPeriod{
	"1": {days: 7, rate: 0.10, label: "7 days"},
	"2": {days: 14, rate: 0.15, label: "14 days"},
	"3": {days: 30, rate: 0.20, label: "30 days"},
}

// Notifier sends the borrower a confirmation SMS after disbursement.
type Notifier interface {
	SendSMS(ctx context.Context, to string, body string) error
}

// Disburser credits the approved amount as airtime.
type Disburser interface {
	SendAirtime(ctx context.Context, phoneNumber string, amount float64, currencyCode string) error
}

// App wires the QuickCash dialogue to its collaborators. Either collaborator
// may be nil; disbursement then happens on the books only.
type App struct {
	store     store.Store
	notifier  Notifier
	disburser Disburser
}

// NewApp creates the lending application over the given borrower store.
func NewApp(st store.Store, notifier Notifier, disburser Disburser) *App {
	slog.Debug("Creating lending app", "notifier_set", notifier != nil, "disburser_set", disburser != nil)
	return &App{store: st, notifier: notifier, disburser: disburser}
}

// Registry builds the complete QuickCash dialogue graph.
func (a *App) Registry() (*ussd.Registry, error) {
	b := ussd.NewBuilder().SetEntryState(stateHome)

	b.Menu(stateHome, "Welcome to QuickCash Loans").
		Option("1", "Apply for Loan", stateCheckEligibility).
		Option("2", "Check Balance", stateCheckBalance).
		Option("3", "Loan History", stateLoanHistory).
		Option("4", "Repay Loan", stateRepayMenu).
		Option("5", "Help", stateHelp).
		Done()

	b.Dynamic(stateCheckEligibility, a.checkEligibility, ussd.DynamicConfig{})

	b.Menu(stateRegisterPrompt, "You are not registered.").
		Option("1", "Register Now", stateRegisterName).
		Option("2", "Back to Menu", stateHome).
		Done()

	b.Input(stateRegisterName, "Enter your full name:", ussd.InputConfig{
		Validate: ussd.NotEmpty,
		StoreAs:  dataKeyFullName,
		Handler: func(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
			sess.CurrentState = stateRegisterID
			return models.Continue("Enter your National ID number (NIN):"), nil
		},
	})

	b.Input(stateRegisterID, "Enter your National ID number (NIN):", ussd.InputConfig{
		Validate: validateNIN,
		StoreAs:  dataKeyIDNumber,
		Handler:  a.registerUser,
	})

	b.Input(stateLoanAmount, "Enter loan amount:", ussd.InputConfig{
		Validate: validateLoanAmount,
		StoreAs:  dataKeyLoanAmount,
		Handler: func(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
			sess.CurrentState = stateLoanPeriod
			return models.Continue("Select loan period:\n\n1. 7 days (10% interest)\n2. 14 days (15% interest)\n3. 30 days (20% interest)"), nil
		},
	})

	b.Input(stateLoanPeriod, "Select loan period:\n\n1. 7 days (10%)\n2. 14 days (15%)\n3. 30 days (20%)", ussd.InputConfig{
		Validate: ussd.Choice("1", "2", "3"),
		Handler:  a.selectPeriod,
	})

	b.Input(stateLoanConfirm, "Confirm loan?\n\n1. Confirm\n2. Cancel", ussd.InputConfig{
		Validate: ussd.Choice("1", "2"),
		Handler:  a.confirmLoan,
	})

	b.Dynamic(stateCheckBalance, a.checkBalance, ussd.DynamicConfig{Terminal: true})
	b.Dynamic(stateLoanHistory, a.loanHistory, ussd.DynamicConfig{Terminal: true})

	b.Menu(stateRepayMenu, "Repay Loan").
		Option("1", "Full Repayment", stateRepayFull).
		Option("2", "Partial Repayment", stateRepayPartial).
		Option("0", "Back to Menu", stateHome).
		Done()

	b.Dynamic(stateRepayFull, a.repayFull, ussd.DynamicConfig{Terminal: true})
	b.Dynamic(stateRepayPartial, a.repayPartial, ussd.DynamicConfig{Terminal: true})

	b.End(stateHelp,
		"QuickCash Loans Help\n\n"+
			"Apply: Get loans NGN 100-5,000\n"+
			"Repay: Bank transfer to 1234567890\n"+
			"Support: 0800-QUICKCASH\n\n"+
			"Thank you for using QuickCash!")

	return b.Build()
}

// checkEligibility routes a loan application: unregistered users are sent to
// the registration prompt, borrowers with an open loan are turned away, and
// eligible users proceed straight to the amount prompt.
func (a *App) checkEligibility(ctx context.Context, sess *models.Session, phoneNumber string) (string, error) {
	user, err := a.store.GetUserByPhone(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("eligibility lookup: %w", err)
	}

	if user == nil {
		sess.CurrentState = stateRegisterPrompt
		return "CON You are not registered.\n\n1. Register Now\n2. Back to Menu", nil
	}

	loans, err := a.store.GetLoansByPhone(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("eligibility loans lookup: %w", err)
	}
	for _, loan := range loans {
		if loan.Open() {
			return models.End("You have an active loan. Please repay before applying for a new one."), nil
		}
	}

	sess.Data[dataKeyLoanLimit] = user.LoanLimit
	sess.CurrentState = stateLoanAmount
	return models.Continue(fmt.Sprintf("You are eligible for up to %s %s.\n\nEnter loan amount:",
		CurrencyCode, plainAmount(user.LoanLimit))), nil
}

// validateNIN checks an 11-digit National ID number.
func validateNIN(input string, _ *models.Session) models.ValidationResult {
	if !ninPattern.MatchString(input) {
		return models.ValidationResult{Message: "Invalid NIN. Please enter 11 digits:"}
	}
	return models.ValidationResult{Valid: true, Value: input}
}

// registerUser creates the borrower account from the data collected across
// the registration states.
func (a *App) registerUser(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
	user := models.User{
		PhoneNumber: phoneNumber,
		FullName:    sess.GetString(dataKeyFullName),
		IDNumber:    sess.GetString(dataKeyIDNumber),
		Balance:     0,
		LoanLimit:   DefaultLoanLimit,
		CreatedAt:   time.Now(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return "", fmt.Errorf("register user: %w", err)
	}

	slog.Info("New user registered", "phone", phoneNumber, "full_name", user.FullName)

	return models.End(fmt.Sprintf("Congratulations %s!\n\nYou are now registered.\nYou can borrow up to %s %s.\n\nDial again to apply for a loan.",
		user.FullName, CurrencyCode, plainAmount(user.LoanLimit))), nil
}

// validateLoanAmount accepts an amount between MinLoanAmount and the
// session's eligibility limit.
func validateLoanAmount(input string, sess *models.Session) models.ValidationResult {
	limit := sess.GetFloat(dataKeyLoanLimit)
	if limit == 0 {
		limit = DefaultLoanLimit
	}
	result := ussd.Amount(input, sess)
	if result.Valid {
		if amount := result.Value.(float64); amount >= MinLoanAmount && amount <= limit {
			return result
		}
	}
	return models.ValidationResult{
		Message: fmt.Sprintf("Invalid amount. Enter between %s %d and %s %s:",
			CurrencyCode, MinLoanAmount, CurrencyCode, plainAmount(limit)),
	}
}

// selectPeriod computes the repayment terms and moves to confirmation.
func (a *App) selectPeriod(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
	period := loanPeriods[input]

	amount := sess.GetFloat(dataKeyLoanAmount)
	interest := amount * period.rate
	total := amount + interest

	sess.Data[dataKeyPeriodDays] = period.days
	sess.Data[dataKeyPeriodLabel] = period.label
	sess.Data[dataKeyPeriodRate] = period.rate
	sess.Data[dataKeyInterest] = interest
	sess.Data[dataKeyTotalRepayment] = total

	sess.CurrentState = stateLoanConfirm

	return models.Continue(fmt.Sprintf("Loan Summary:\nAmount: %s %s\nPeriod: %s\nInterest: %s %.2f\nTotal: %s %.2f\n\n1. Confirm\n2. Cancel",
		CurrencyCode, groupedAmount(amount), period.label, CurrencyCode, interest, CurrencyCode, total)), nil
}

// confirmLoan finalizes the application: the loan is recorded, auto-approved
// and disbursed. Notification failures never fail the dialogue.
func (a *App) confirmLoan(ctx context.Context, sess *models.Session, input, phoneNumber string) (string, error) {
	if input == "2" {
		return models.End("Loan application cancelled.\n\nThank you for using QuickCash."), nil
	}

	loan := models.Loan{
		ID:             util.GenerateLoanID(),
		PhoneNumber:    phoneNumber,
		Amount:         sess.GetFloat(dataKeyLoanAmount),
		PeriodDays:     int(sess.GetFloat(dataKeyPeriodDays)),
		PeriodLabel:    sess.GetString(dataKeyPeriodLabel),
		Rate:           sess.GetFloat(dataKeyPeriodRate),
		Interest:       sess.GetFloat(dataKeyInterest),
		TotalRepayment: sess.GetFloat(dataKeyTotalRepayment),
		Status:         models.LoanStatusPending,
		AppliedAt:      time.Now(),
	}
	if err := a.store.CreateLoan(loan); err != nil {
		return "", fmt.Errorf("create loan: %w", err)
	}

	approved, err := a.store.ApproveLoan(loan.ID)
	if err != nil {
		return "", fmt.Errorf("approve loan: %w", err)
	}

	a.disburse(ctx, *approved)

	slog.Info("Loan approved", "loanID", approved.ID, "phone", phoneNumber, "amount", approved.Amount)

	return models.End(fmt.Sprintf("Congratulations!\n\nYour loan of %s %s has been approved.\n\nLoan ID: %s\n\nFunds will be sent to your account within 5 minutes.",
		CurrencyCode, groupedAmount(approved.Amount), approved.ID)), nil
}

// disburse pushes the payout as airtime and confirms by SMS. Both are best
// effort; the loan is already on the books.
func (a *App) disburse(ctx context.Context, loan models.Loan) {
	if a.disburser != nil {
		if err := a.disburser.SendAirtime(ctx, loan.PhoneNumber, loan.Amount, CurrencyCode); err != nil {
			slog.Error("Loan disbursement failed", "error", err, "loanID", loan.ID, "phone", loan.PhoneNumber)
		}
	}
	if a.notifier != nil {
		body := fmt.Sprintf("Your QuickCash loan %s of %s %s has been approved. Repay %s %.2f within %s.",
			loan.ID, CurrencyCode, groupedAmount(loan.Amount), CurrencyCode, loan.TotalRepayment, loan.PeriodLabel)
		if err := a.notifier.SendSMS(ctx, loan.PhoneNumber, body); err != nil {
			slog.Error("Loan confirmation SMS failed", "error", err, "loanID", loan.ID, "phone", loan.PhoneNumber)
		}
	}
}

// checkBalance renders the terminal account summary.
func (a *App) checkBalance(ctx context.Context, sess *models.Session, phoneNumber string) (string, error) {
	user, err := a.store.GetUserByPhone(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("balance lookup: %w", err)
	}
	if user == nil {
		return models.End("You are not registered.\n\nDial again to register."), nil
	}

	loans, err := a.store.GetLoansByPhone(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("balance loans lookup: %w", err)
	}
	var totalOwed float64
	for _, loan := range loans {
		if loan.Status == models.LoanStatusActive {
			totalOwed += loan.TotalRepayment
		}
	}

	return models.End(fmt.Sprintf("Account Balance\n\nName: %s\nAvailable: %s %s\nLoan Limit: %s %s\nAmount Owed: %s %.2f",
		user.FullName, CurrencyCode, groupedAmount(user.Balance),
		CurrencyCode, groupedAmount(user.LoanLimit), CurrencyCode, totalOwed)), nil
}

// loanHistory renders the borrower's most recent loans.
func (a *App) loanHistory(ctx context.Context, sess *models.Session, phoneNumber string) (string, error) {
	user, err := a.store.GetUserByPhone(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("history lookup: %w", err)
	}
	if user == nil {
		return models.End("You are not registered.\n\nDial again to register."), nil
	}

	loans, err := a.store.GetLoansByPhone(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("history loans lookup: %w", err)
	}
	if len(loans) == 0 {
		return models.End("You have no loan history."), nil
	}

	message := "Your Loans:\n\n"
	for i, loan := range loans {
		if i == HistoryLimit {
			break
		}
		message += fmt.Sprintf("%d. %s %s - %s\n", i+1, CurrencyCode, groupedAmount(loan.Amount), loan.Status)
	}
	return models.End(message), nil
}

// repayFull renders the bank transfer details for the first active loan.
func (a *App) repayFull(ctx context.Context, sess *models.Session, phoneNumber string) (string, error) {
	loans, err := a.store.GetLoansByPhone(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("repayment loans lookup: %w", err)
	}
	for _, loan := range loans {
		if loan.Status == models.LoanStatusActive {
			return models.End(fmt.Sprintf("To repay %s %.2f:\n\nBank: First Bank\nAccount: 1234567890\nName: QuickCash Ltd\nRef: %s\n\nThank you!",
				CurrencyCode, loan.TotalRepayment, loan.ID)), nil
		}
	}
	return models.End("You have no active loans to repay."), nil
}

// repayPartial is a placeholder pending partial-repayment support.
func (a *App) repayPartial(ctx context.Context, sess *models.Session, phoneNumber string) (string, error) {
	return models.End("Partial repayment is coming soon.\n\nPlease use Full Repayment for now."), nil
}
