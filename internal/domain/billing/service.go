package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/derive"
	"github.com/hms/hms/internal/platform/errs"
	"github.com/hms/hms/internal/platform/sequence"
)

type idAllocator interface {
	Allocate(ctx context.Context, entity sequence.Entity, at time.Time) (string, error)
}

type txRunner interface {
	Write(ctx context.Context, fn func(ctx context.Context) error) error
}

type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	invoices Repository
	items    ItemRepository
	payments PaymentRepository
	patients PatientDirectory
	alloc    idAllocator
	tx       txRunner

	// defaultTaxRate applies when a new invoice does not specify one.
	defaultTaxRate decimal.Decimal
}

func NewService(invoices Repository, items ItemRepository, payments PaymentRepository,
	patients PatientDirectory, alloc idAllocator, tx txRunner, defaultTaxRate decimal.Decimal) *Service {
	return &Service{
		invoices:       invoices,
		items:          items,
		payments:       payments,
		patients:       patients,
		alloc:          alloc,
		tx:             tx,
		defaultTaxRate: defaultTaxRate,
	}
}

func validate(inv *Invoice, items []*LineItem) error {
	fields := map[string]string{}
	if inv.PatientID == uuid.Nil {
		fields["patient_id"] = "required"
	}
	if !validDiscountType(inv.DiscountType) {
		fields["discount_type"] = "must be percentage or fixed"
	}
	if inv.DiscountValue.IsNegative() {
		fields["discount_value"] = "must not be negative"
	}
	if derive.DiscountType(inv.DiscountType) == derive.DiscountPercentage &&
		inv.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		fields["discount_value"] = "percentage must not exceed 100"
	}
	if inv.TaxRate.IsNegative() {
		fields["tax_rate"] = "must not be negative"
	}
	if len(items) == 0 {
		fields["items"] = "at least one line item is required"
	}
	for i, it := range items {
		if it.Description == "" {
			fields[fmt.Sprintf("items[%d].description", i)] = "required"
		}
		if it.Quantity <= 0 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be positive"
		}
		if it.UnitPrice.IsNegative() {
			fields[fmt.Sprintf("items[%d].unit_price", i)] = "must not be negative"
		}
		if it.Discount.IsNegative() {
			fields[fmt.Sprintf("items[%d].discount", i)] = "must not be negative"
		} else if it.Discount.GreaterThan(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity))) {
			fields[fmt.Sprintf("items[%d].discount", i)] = "must not exceed the line amount"
		}
	}
	if len(fields) > 0 {
		return errs.Validation(fields)
	}
	return nil
}

// Create issues a new invoice. taxRate nil falls back to the configured
// default.
func (s *Service) Create(ctx context.Context, inv *Invoice, items []*LineItem, taxRate *decimal.Decimal) error {
	if inv.DiscountType == "" {
		inv.DiscountType = string(derive.DiscountFixed)
	}
	if taxRate != nil {
		inv.TaxRate = *taxRate
	} else {
		inv.TaxRate = s.defaultTaxRate
	}
	if err := validate(inv, items); err != nil {
		return err
	}
	if err := s.patients.Exists(ctx, inv.PatientID); err != nil {
		return err
	}

	inv.PaymentStatus = PaymentUnpaid
	inv.AmountPaid = decimal.Zero
	applyTotals(inv, items)

	err := s.tx.Write(ctx, func(ctx context.Context) error {
		id, err := s.alloc.Allocate(ctx, sequence.EntityInvoice, time.Now())
		if err != nil {
			return err
		}
		inv.InvoiceID = id
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		return s.items.ReplaceAll(ctx, inv.ID, items)
	})
	if err != nil {
		return err
	}

	inv.Items = items
	s.enrich(inv)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, inv)
}

func (s *Service) GetByInvoiceID(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, err := s.invoices.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, inv)
}

// Update replaces the billable content of an open invoice and recomputes the
// breakdown. Settled invoices are immutable.
func (s *Service) Update(ctx context.Context, inv *Invoice, items []*LineItem) error {
	current, err := s.invoices.GetByID(ctx, inv.ID)
	if err != nil {
		return err
	}
	if settled(current.PaymentStatus) {
		return errs.Locked("invoice", current.PaymentStatus)
	}
	inv.InvoiceID = current.InvoiceID
	inv.PatientID = current.PatientID
	inv.AmountPaid = current.AmountPaid
	if inv.DiscountType == "" {
		inv.DiscountType = current.DiscountType
	}
	if err := validate(inv, items); err != nil {
		return err
	}

	applyTotals(inv, items)
	inv.PaymentStatus = statusFor(inv, current.PaymentStatus)

	return s.tx.Write(ctx, func(ctx context.Context) error {
		if err := s.items.ReplaceAll(ctx, inv.ID, items); err != nil {
			return err
		}
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		inv.Items = items
		s.enrich(inv)
		return nil
	})
}

// RecomputeTotals re-derives the monetary breakdown from the stored line
// items. Feeding the stored values back through the computation never moves a
// cent.
func (s *Service) RecomputeTotals(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}

	applyTotals(inv, items)
	inv.PaymentStatus = statusFor(inv, inv.PaymentStatus)

	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		return s.invoices.Update(ctx, inv)
	}); err != nil {
		return nil, err
	}
	inv.Items = items
	s.enrich(inv)
	return inv, nil
}

// RecordPayment appends to the payments ledger and reconciles the invoice.
// Negative amounts are refunds.
func (s *Service) RecordPayment(ctx context.Context, p *Payment) (*Invoice, error) {
	if p.Amount.IsZero() {
		return nil, errs.ValidationField("amount", "must not be zero")
	}

	inv, err := s.invoices.GetByID(ctx, p.InvoiceID)
	if err != nil {
		return nil, err
	}

	newPaid := inv.AmountPaid.Add(p.Amount)
	if newPaid.GreaterThan(inv.Total) {
		return nil, errs.ValidationField("amount",
			fmt.Sprintf("payment would exceed the invoice total by %s", newPaid.Sub(inv.Total)))
	}
	if newPaid.IsNegative() {
		return nil, errs.ValidationField("amount",
			"refund would exceed the amount paid")
	}

	err = s.tx.Write(ctx, func(ctx context.Context) error {
		if err := s.payments.Append(ctx, p); err != nil {
			return err
		}
		ledger, err := s.payments.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		inv.AmountPaid = reconcile(ledger)
		inv.PaymentStatus = statusAfterPayment(inv, ledger)
		inv.Payments = ledger
		return s.invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	// The payment is committed; a failure here is a read failure.
	items, err := s.items.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	s.enrich(inv)
	return inv, nil
}

func (s *Service) Payments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.payments.ListByInvoice(ctx, invoiceID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	items, total, err := s.invoices.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, inv := range items {
		s.enrich(inv)
	}
	return items, total, nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	items, total, err := s.invoices.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, inv := range items {
		s.enrich(inv)
	}
	return items, total, nil
}

func (s *Service) load(ctx context.Context, inv *Invoice) (*Invoice, error) {
	var err error
	if inv.Items, err = s.items.ListByInvoice(ctx, inv.ID); err != nil {
		return nil, err
	}
	if inv.Payments, err = s.payments.ListByInvoice(ctx, inv.ID); err != nil {
		return nil, err
	}
	s.enrich(inv)
	return inv, nil
}

func applyTotals(inv *Invoice, items []*LineItem) {
	amounts := derive.InvoiceTotals(deriveItems(items),
		derive.DiscountType(inv.DiscountType), inv.DiscountValue, inv.TaxRate)
	inv.Subtotal = amounts.Subtotal
	inv.DiscountAmount = amounts.DiscountAmount
	inv.TaxAmount = amounts.TaxAmount
	inv.Total = amounts.Total
}

func reconcile(ledger []*Payment) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range ledger {
		paid = paid.Add(p.Amount)
	}
	return paid
}

// settled statuses close the invoice to further edits.
func settled(status string) bool {
	return status == PaymentPaid || status == PaymentRefunded
}

func statusAfterPayment(inv *Invoice, ledger []*Payment) string {
	refunds := false
	for _, p := range ledger {
		if p.Amount.IsNegative() {
			refunds = true
			break
		}
	}
	if refunds && !inv.AmountPaid.IsPositive() {
		return PaymentRefunded
	}
	return statusFor(inv, inv.PaymentStatus)
}

func statusFor(inv *Invoice, current string) string {
	switch {
	case current == PaymentRefunded:
		return PaymentRefunded
	case inv.Total.IsPositive() && inv.AmountPaid.GreaterThanOrEqual(inv.Total):
		return PaymentPaid
	case inv.AmountPaid.IsPositive():
		return PaymentPartiallyPaid
	case inv.DueDate != nil && inv.DueDate.Before(time.Now()):
		return PaymentOverdue
	default:
		return PaymentUnpaid
	}
}

func (s *Service) enrich(inv *Invoice) {
	inv.Balance = inv.Total.Sub(inv.AmountPaid)
}
