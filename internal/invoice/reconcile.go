package invoice

import (
	"fmt"

	"github.com/zombor/invoice-scanner/internal/scanning"
)

const (
	// TaxRate is the VAT multiplier applied when item totals are listed before tax
	TaxRate = 1.18

	// TotalsTolerance is the absolute difference in NIS still treated as a match
	TotalsTolerance = 1.0
)

// TotalsStatus is the outcome of comparing line items with the stated total
type TotalsStatus string

const (
	TotalsConsistent   TotalsStatus = "consistent"
	TotalsInconsistent TotalsStatus = "inconsistent"
	// TotalsIndeterminate means no stated total was available to compare against
	TotalsIndeterminate TotalsStatus = "indeterminate"
)

const totalsWarning = "Total amount does not match the sum of the line items. Please verify manually."

// TotalsCheck annotates an extracted invoice. It never rejects the record.
type TotalsCheck struct {
	Status          TotalsStatus `json:"status"`
	CalculatedTotal float64      `json:"calculated_total"`
	StatedTotal     float64      `json:"stated_total"`
	ExactMatch      bool         `json:"exact_match"`
	TaxMatch        bool         `json:"tax_match"`
	Warning         string       `json:"warning,omitempty"`
}

// ExactMatch reports whether calculated is within the tolerance of stated
func ExactMatch(calculated, stated float64) bool {
	diff := calculated - stated
	return -TotalsTolerance <= diff && diff <= TotalsTolerance
}

// TaxMatch reports whether calculated plus VAT is within the tolerance of stated
func TaxMatch(calculated, stated float64) bool {
	return ExactMatch(calculated*TaxRate, stated)
}

// CheckTotals compares the sum of the line items with the invoice's stated total
func CheckTotals(record *scanning.InvoiceRecord) TotalsCheck {
	if record == nil {
		return TotalsCheck{Status: TotalsIndeterminate}
	}

	check := TotalsCheck{
		CalculatedTotal: record.CalculatedTotal(),
		StatedTotal:     record.TotalAmountNis,
	}
	if record.TotalAmountNis == 0 {
		check.Status = TotalsIndeterminate
		return check
	}

	check.ExactMatch = ExactMatch(check.CalculatedTotal, check.StatedTotal)
	check.TaxMatch = TaxMatch(check.CalculatedTotal, check.StatedTotal)
	if check.ExactMatch || check.TaxMatch {
		check.Status = TotalsConsistent
		return check
	}

	check.Status = TotalsInconsistent
	check.Warning = fmt.Sprintf("%s (calculated %.2f NIS, stated %.2f NIS)", totalsWarning, check.CalculatedTotal, check.StatedTotal)
	return check
}
