package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error)
}

type ItemRepository interface {
	ReplaceAll(ctx context.Context, invoiceID uuid.UUID, items []*LineItem) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)
}

// PaymentRepository is append-only. The ledger is never rewritten; refunds
// are compensating entries.
type PaymentRepository interface {
	Append(ctx context.Context, p *Payment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
