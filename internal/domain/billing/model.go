package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/derive"
)

const (
	PaymentUnpaid        = "unpaid"
	PaymentPartiallyPaid = "partially_paid"
	PaymentPaid          = "paid"
	PaymentOverdue       = "overdue"
	PaymentRefunded      = "refunded"
)

// Invoice maps to the invoice table. InvoiceID is the generated business
// identifier (INV + yyyymm + sequence). The monetary breakdown is derived
// from the line items and stored so reads do not recompute.
type Invoice struct {
	ID        uuid.UUID `db:"id" json:"id"`
	InvoiceID string    `db:"invoice_id" json:"invoice_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`

	// AppointmentID ties the invoice to the visit it bills, when there is one.
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`

	DiscountType  string          `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	TaxRate       decimal.Decimal `db:"tax_rate" json:"tax_rate"`

	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	Total          decimal.Decimal `db:"total" json:"total"`
	AmountPaid     decimal.Decimal `db:"amount_paid" json:"amount_paid"`

	PaymentStatus string     `db:"payment_status" json:"payment_status"`
	DueDate       *time.Time `db:"due_date" json:"due_date,omitempty"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`

	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Items    []*LineItem `db:"-" json:"items,omitempty"`
	Payments []*Payment  `db:"-" json:"payments,omitempty"`

	// Balance is derived on read: total minus amount paid.
	Balance decimal.Decimal `db:"-" json:"balance"`
}

// LineItem maps to the invoice_line_item table.
type LineItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	InvoiceID   uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Description string          `db:"description" json:"description"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
}

// Payment is one row of the append-only invoice_payment ledger. AmountPaid on
// the invoice is always the reconciled sum of this ledger; refunds are
// negative amounts.
type Payment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	InvoiceID  uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"method" json:"method,omitempty"`
	Reference  *string         `db:"reference" json:"reference,omitempty"`
	ReceivedBy string          `db:"received_by" json:"received_by,omitempty"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
}

func validDiscountType(t string) bool {
	switch derive.DiscountType(t) {
	case derive.DiscountPercentage, derive.DiscountFixed:
		return true
	}
	return false
}

func deriveItems(items []*LineItem) []derive.LineItem {
	out := make([]derive.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, derive.LineItem{
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Discount:  it.Discount,
		})
	}
	return out
}
