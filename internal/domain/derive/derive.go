// Package derive holds the pure calculations re-run on every write that
// touches their inputs. Functions here take copies and return results; they
// never persist anything.
package derive

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BMI computes body mass index from height in centimeters and weight in
// kilograms, rounded to one decimal. Returns nil when either input is missing
// or non-positive.
func BMI(heightCm, weightKg *decimal.Decimal) *decimal.Decimal {
	if heightCm == nil || weightKg == nil {
		return nil
	}
	if !heightCm.IsPositive() || !weightKg.IsPositive() {
		return nil
	}
	meters := heightCm.Div(decimal.NewFromInt(100))
	bmi := weightKg.Div(meters.Mul(meters)).Round(1)
	return &bmi
}

// Age returns completed years between birthDate and now.
func Age(birthDate, now time.Time) int {
	years := now.Year() - birthDate.Year()
	anniversary := birthDate.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// VisitDuration returns the actual consultation length in minutes when both
// timestamps are present, otherwise the pre-set estimate.
func VisitDuration(start, end *time.Time, estimateMinutes int) int {
	if start == nil || end == nil {
		return estimateMinutes
	}
	d := end.Sub(*start)
	if d < 0 {
		return estimateMinutes
	}
	return int(d.Round(time.Minute) / time.Minute)
}

// DiscountType selects how an invoice discount is applied.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// LineItem is the billing input to invoice totals.
type LineItem struct {
	Quantity  int64
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

// InvoiceAmounts is the derived monetary breakdown of an invoice.
type InvoiceAmounts struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
}

// InvoiceTotals recomputes the invoice breakdown. Subtotal sums
// quantity*unitPrice minus per-line discounts; the invoice-level discount is
// either a percentage of the subtotal or a fixed amount; tax applies to the
// discounted subtotal. Everything stays in decimal so recomputation is
// idempotent to the cent.
func InvoiceTotals(items []LineItem, discountType DiscountType, discountValue, taxRate decimal.Decimal) InvoiceAmounts {
	subtotal := decimal.Zero
	for _, it := range items {
		line := it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)).Sub(it.Discount)
		subtotal = subtotal.Add(line)
	}

	var discount decimal.Decimal
	switch discountType {
	case DiscountPercentage:
		discount = subtotal.Mul(discountValue).Div(decimal.NewFromInt(100))
	default:
		discount = discountValue
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(taxRate).Div(decimal.NewFromInt(100))

	return InvoiceAmounts{
		Subtotal:       subtotal.Round(2),
		DiscountAmount: discount.Round(2),
		TaxAmount:      tax.Round(2),
		Total:          taxable.Add(tax).Round(2),
	}
}

// AppointmentTotal sums the consultation fee and any additional charges.
func AppointmentTotal(consultationFee decimal.Decimal, additionalCharges []decimal.Decimal) decimal.Decimal {
	total := consultationFee
	for _, c := range additionalCharges {
		total = total.Add(c)
	}
	return total.Round(2)
}

// LabResult is the subset of a diagnostic result needed for critical flagging.
type LabResult struct {
	TestName string
	Value    string
	Flag     string
}

// CriticalFlag summarizes one critically abnormal lab result.
type CriticalFlag struct {
	TestName string `json:"test_name"`
	Value    string `json:"value"`
	Flag     string `json:"flag"`
}

// CriticalLabFlags scans results for flags containing "critical" and returns
// a compact alerting summary. The summary is computed on read, never stored.
func CriticalLabFlags(results []LabResult) []CriticalFlag {
	var flags []CriticalFlag
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.Flag), "critical") {
			flags = append(flags, CriticalFlag{TestName: r.TestName, Value: r.Value, Flag: r.Flag})
		}
	}
	return flags
}
