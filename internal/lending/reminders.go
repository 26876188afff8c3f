package lending

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// SendRepaymentReminders sends an SMS to every borrower holding a disbursed
// loan, naming the outstanding total and the due date. It is meant to run on
// a cron schedule; individual send failures are logged and counted, never
// fatal.
func (a *App) SendRepaymentReminders(ctx context.Context) error {
	if a.notifier == nil {
		slog.Debug("Repayment reminders skipped, no notifier configured")
		return nil
	}

	loans, err := a.store.GetLoansByStatus(models.LoanStatusApproved)
	if err != nil {
		return fmt.Errorf("reminder loans lookup: %w", err)
	}

	var sent, failed int
	for _, loan := range loans {
		start := loan.AppliedAt
		if loan.ApprovedAt != nil {
			start = *loan.ApprovedAt
		}
		due := start.AddDate(0, 0, loan.PeriodDays)

		body := fmt.Sprintf("QuickCash reminder: your loan %s of %s %s is due on %s. Outstanding: %s %.2f.",
			loan.ID, CurrencyCode, groupedAmount(loan.Amount),
			due.Format("02 Jan 2006"), CurrencyCode, loan.TotalRepayment)
		if err := a.notifier.SendSMS(ctx, loan.PhoneNumber, body); err != nil {
			slog.Error("Repayment reminder SMS failed", "error", err, "loanID", loan.ID, "phone", loan.PhoneNumber)
			failed++
			continue
		}
		sent++
	}

	slog.Info("Repayment reminders processed", "loans", len(loans), "sent", sent, "failed", failed)
	return nil
}
