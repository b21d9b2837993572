package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/errs"
	"github.com/hms/hms/internal/platform/sequence"
)

// -- Mocks --

type passTx struct{}

func (passTx) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockAlloc struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMockAlloc() *mockAlloc { return &mockAlloc{counters: make(map[string]int64)} }

func (m *mockAlloc) Allocate(_ context.Context, entity sequence.Entity, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, err := sequence.Key(entity, at)
	if err != nil {
		return "", err
	}
	m.counters[key]++
	return sequence.Format(entity, at, m.counters[key])
}

type mockPatients struct {
	known map[uuid.UUID]bool
}

func (m *mockPatients) Exists(_ context.Context, id uuid.UUID) error {
	if !m.known[id] {
		return errs.NotFound("patient")
	}
	return nil
}

type mockRepo struct {
	invoices map[uuid.UUID]*Invoice
}

func newMockRepo() *mockRepo { return &mockRepo{invoices: make(map[uuid.UUID]*Invoice)} }

func (m *mockRepo) Create(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.VersionID = 1
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, errs.NotFound("invoice")
	}
	cp := *inv
	return &cp, nil
}

func (m *mockRepo) GetByInvoiceID(_ context.Context, invoiceID string) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.InvoiceID == invoiceID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, errs.NotFound("invoice")
}

func (m *mockRepo) Update(_ context.Context, inv *Invoice) error {
	stored, ok := m.invoices[inv.ID]
	if !ok {
		return errs.NotFound("invoice")
	}
	if stored.VersionID != inv.VersionID {
		return errs.Conflict("invoice was modified concurrently", nil)
	}
	inv.VersionID++
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var items []*Invoice
	for _, inv := range m.invoices {
		if inv.PatientID == patientID {
			cp := *inv
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	var items []*Invoice
	for _, inv := range m.invoices {
		if status := params["payment_status"]; status != "" && inv.PaymentStatus != status {
			continue
		}
		cp := *inv
		items = append(items, &cp)
	}
	return items, len(items), nil
}

type mockItemRepo struct {
	items   map[uuid.UUID][]*LineItem
	listErr error
}

func newMockItemRepo() *mockItemRepo { return &mockItemRepo{items: make(map[uuid.UUID][]*LineItem)} }

func (m *mockItemRepo) ReplaceAll(_ context.Context, invoiceID uuid.UUID, items []*LineItem) error {
	stored := make([]*LineItem, 0, len(items))
	for _, it := range items {
		it.ID = uuid.New()
		it.InvoiceID = invoiceID
		cp := *it
		stored = append(stored, &cp)
	}
	m.items[invoiceID] = stored
	return nil
}

func (m *mockItemRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*LineItem
	for _, it := range m.items[invoiceID] {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

type mockPaymentRepo struct {
	ledger []*Payment
}

func (m *mockPaymentRepo) Append(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.ReceivedAt = time.Now().UTC()
	cp := *p
	m.ledger = append(m.ledger, &cp)
	return nil
}

func (m *mockPaymentRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.ledger {
		if p.InvoiceID == invoiceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fixture struct {
	svc       *Service
	items     *mockItemRepo
	payments  *mockPaymentRepo
	patientID uuid.UUID
}

func newFixture() *fixture {
	patientID := uuid.New()
	items := newMockItemRepo()
	payments := &mockPaymentRepo{}
	patients := &mockPatients{known: map[uuid.UUID]bool{patientID: true}}
	svc := NewService(newMockRepo(), items, payments, patients,
		newMockAlloc(), passTx{}, dec("15"))
	return &fixture{svc: svc, items: items, payments: payments, patientID: patientID}
}

func consultationItems() []*LineItem {
	return []*LineItem{
		{Description: "consultation", Quantity: 1, UnitPrice: dec("200")},
		{Description: "lab panel", Quantity: 2, UnitPrice: dec("50")},
	}
}

// -- Tests --

func TestCreate_DerivesTotals(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID, DiscountValue: dec("0")}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}

	wantPrefix := "INV" + time.Now().UTC().Format("200601")
	if inv.InvoiceID != wantPrefix+"0001" {
		t.Errorf("invoice id = %s, want %s0001", inv.InvoiceID, wantPrefix)
	}
	if inv.Subtotal.String() != "300" {
		t.Errorf("subtotal = %s, want 300", inv.Subtotal)
	}
	if !inv.DiscountAmount.IsZero() {
		t.Errorf("discount = %s, want 0", inv.DiscountAmount)
	}
	if inv.TaxAmount.String() != "45" {
		t.Errorf("tax = %s, want 45", inv.TaxAmount)
	}
	if inv.Total.String() != "345" {
		t.Errorf("total = %s, want 345", inv.Total)
	}
	if inv.PaymentStatus != PaymentUnpaid {
		t.Errorf("status = %s, want unpaid", inv.PaymentStatus)
	}
	if inv.Balance.String() != "345" {
		t.Errorf("balance = %s, want 345", inv.Balance)
	}
}

func TestCreate_DefaultTaxRate(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), nil); err != nil {
		t.Fatal(err)
	}
	if inv.TaxRate.String() != "15" {
		t.Errorf("tax rate = %s, want the configured default 15", inv.TaxRate)
	}
}

func TestCreate_PercentageDiscount(t *testing.T) {
	f := newFixture()
	inv := &Invoice{
		PatientID:     f.patientID,
		DiscountType:  "percentage",
		DiscountValue: dec("10"),
	}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}
	// 300 - 30 = 270 taxable, 15% tax = 40.5
	if inv.DiscountAmount.String() != "30" {
		t.Errorf("discount = %s, want 30", inv.DiscountAmount)
	}
	if inv.Total.String() != "310.5" {
		t.Errorf("total = %s, want 310.5", inv.Total)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID, DiscountType: "percentage", DiscountValue: dec("150")}
	err := f.svc.Create(context.Background(), inv, nil, nil)
	e, ok := errs.AsError(err)
	if !ok || e.Kind != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if e.Fields["items"] == "" || e.Fields["discount_value"] == "" {
		t.Errorf("missing field details: %v", e.Fields)
	}
}

func TestRecompute_IsIdempotent(t *testing.T) {
	f := newFixture()
	inv := &Invoice{
		PatientID:     f.patientID,
		DiscountType:  "percentage",
		DiscountValue: dec("7.5"),
	}
	items := []*LineItem{
		{Description: "procedure", Quantity: 3, UnitPrice: dec("33.33"), Discount: dec("0.99")},
		{Description: "supplies", Quantity: 7, UnitPrice: dec("1.01")},
	}
	if err := f.svc.Create(context.Background(), inv, items, decPtr("12.5")); err != nil {
		t.Fatal(err)
	}

	first, err := f.svc.RecomputeTotals(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.RecomputeTotals(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}

	if !first.Total.Equal(second.Total) || !first.Total.Equal(inv.Total) {
		t.Errorf("totals drifted: create=%s first=%s second=%s", inv.Total, first.Total, second.Total)
	}
	if !first.Subtotal.Equal(second.Subtotal) || !first.TaxAmount.Equal(second.TaxAmount) {
		t.Error("breakdown drifted across recomputations")
	}
}

func TestRecordPayment_ReportsItemReadFailure(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}

	readErr := errors.New("connection reset")
	f.items.listErr = readErr
	_, err := f.svc.RecordPayment(context.Background(), &Payment{
		InvoiceID: inv.ID, Amount: dec("100"), Method: "card",
	})
	if !errors.Is(err, readErr) {
		t.Fatalf("expected the read failure, got %v", err)
	}

	// The payment itself was committed to the ledger.
	f.items.listErr = nil
	got, err := f.svc.Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountPaid.String() != "100" || got.PaymentStatus != PaymentPartiallyPaid {
		t.Errorf("paid = %s, status = %s, want 100 and partially_paid", got.AmountPaid, got.PaymentStatus)
	}
}

func TestRecordPayment_Ledger(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}

	after, err := f.svc.RecordPayment(context.Background(), &Payment{
		InvoiceID: inv.ID, Amount: dec("100"), Method: "card",
	})
	if err != nil {
		t.Fatal(err)
	}
	if after.PaymentStatus != PaymentPartiallyPaid {
		t.Errorf("status = %s, want partially_paid", after.PaymentStatus)
	}
	if after.AmountPaid.String() != "100" || after.Balance.String() != "245" {
		t.Errorf("paid = %s, balance = %s", after.AmountPaid, after.Balance)
	}

	after, err = f.svc.RecordPayment(context.Background(), &Payment{
		InvoiceID: inv.ID, Amount: dec("245"), Method: "cash",
	})
	if err != nil {
		t.Fatal(err)
	}
	if after.PaymentStatus != PaymentPaid {
		t.Errorf("status = %s, want paid", after.PaymentStatus)
	}
	if !after.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", after.Balance)
	}

	ledger, err := f.svc.Payments(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 2 {
		t.Fatalf("ledger has %d entries, want 2", len(ledger))
	}
	sum := decimal.Zero
	for _, p := range ledger {
		sum = sum.Add(p.Amount)
	}
	if !sum.Equal(after.AmountPaid) {
		t.Errorf("ledger sum %s does not reconcile with amount paid %s", sum, after.AmountPaid)
	}
}

func TestRecordPayment_Overpayment(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.RecordPayment(context.Background(), &Payment{InvoiceID: inv.ID, Amount: dec("400")})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error on overpayment, got %v", err)
	}
}

func TestRecordPayment_FullRefund(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.RecordPayment(context.Background(), &Payment{InvoiceID: inv.ID, Amount: dec("345")}); err != nil {
		t.Fatal(err)
	}
	after, err := f.svc.RecordPayment(context.Background(), &Payment{
		InvoiceID: inv.ID, Amount: dec("-345"), Method: "refund",
	})
	if err != nil {
		t.Fatal(err)
	}
	if after.PaymentStatus != PaymentRefunded {
		t.Errorf("status = %s, want refunded", after.PaymentStatus)
	}
	if !after.AmountPaid.IsZero() {
		t.Errorf("amount paid = %s, want 0", after.AmountPaid)
	}
}

func TestRecordPayment_RefundBelowZero(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.RecordPayment(context.Background(), &Payment{InvoiceID: inv.ID, Amount: dec("-10")})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdate_PaidInvoiceLocked(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordPayment(context.Background(), &Payment{InvoiceID: inv.ID, Amount: dec("345")}); err != nil {
		t.Fatal(err)
	}

	latest, err := f.svc.Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	err = f.svc.Update(context.Background(), latest, consultationItems())
	if !errs.Is(err, errs.KindLocked) {
		t.Fatalf("expected locked on editing a paid invoice, got %v", err)
	}
}

func TestUpdate_RecomputesAndKeepsIdentity(t *testing.T) {
	f := newFixture()
	inv := &Invoice{PatientID: f.patientID}
	if err := f.svc.Create(context.Background(), inv, consultationItems(), decPtr("15")); err != nil {
		t.Fatal(err)
	}
	origID := inv.InvoiceID

	edit := *inv
	edit.InvoiceID = "INV9999990042"
	newItems := []*LineItem{{Description: "consultation", Quantity: 1, UnitPrice: dec("100")}}
	if err := f.svc.Update(context.Background(), &edit, newItems); err != nil {
		t.Fatal(err)
	}

	if edit.InvoiceID != origID {
		t.Error("invoice identifier must be immutable")
	}
	if edit.Total.String() != "115" {
		t.Errorf("total = %s, want 115", edit.Total)
	}
}
