package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// timeNow is a seam for tests.
var timeNow = time.Now

// scanLoan scans a Loan from sql.Rows, handling the nullable approval time.
func scanLoan(rows *sql.Rows) (models.Loan, error) {
	var loan models.Loan
	var approvedAt sql.NullTime
	err := rows.Scan(
		&loan.ID, &loan.PhoneNumber, &loan.Amount, &loan.PeriodDays, &loan.PeriodLabel,
		&loan.Rate, &loan.Interest, &loan.TotalRepayment, &loan.Status, &loan.AppliedAt, &approvedAt,
	)
	if err != nil {
		return loan, fmt.Errorf("scan loan failed: %w", err)
	}
	if approvedAt.Valid {
		loan.ApprovedAt = &approvedAt.Time
	}
	return loan, nil
}
