package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Invoice Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invoiceCols = `id, invoice_id, patient_id, appointment_id,
	discount_type, discount_value, tax_rate,
	subtotal, discount_amount, tax_amount, total, amount_paid,
	payment_status, due_date, notes, version_id, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceID, &inv.PatientID, &inv.AppointmentID,
		&inv.DiscountType, &inv.DiscountValue, &inv.TaxRate,
		&inv.Subtotal, &inv.DiscountAmount, &inv.TaxAmount, &inv.Total, &inv.AmountPaid,
		&inv.PaymentStatus, &inv.DueDate, &inv.Notes, &inv.VersionID, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("invoice")
	}
	return &inv, err
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (id, invoice_id, patient_id, appointment_id,
			discount_type, discount_value, tax_rate,
			subtotal, discount_amount, tax_amount, total, amount_paid,
			payment_status, due_date, notes, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		inv.ID, inv.InvoiceID, inv.PatientID, inv.AppointmentID,
		inv.DiscountType, inv.DiscountValue, inv.TaxRate,
		inv.Subtotal, inv.DiscountAmount, inv.TaxAmount, inv.Total, inv.AmountPaid,
		inv.PaymentStatus, inv.DueDate, inv.Notes, inv.VersionID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errs.Conflict(fmt.Sprintf("invoice identifier %s already exists", inv.InvoiceID), err)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
}

func (r *repoPG) GetByInvoiceID(ctx context.Context, invoiceID string) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE invoice_id = $1`, invoiceID))
}

func (r *repoPG) Update(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice SET discount_type=$2, discount_value=$3, tax_rate=$4,
			subtotal=$5, discount_amount=$6, tax_amount=$7, total=$8, amount_paid=$9,
			payment_status=$10, due_date=$11, notes=$12,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $13`,
		inv.ID, inv.DiscountType, inv.DiscountValue, inv.TaxRate,
		inv.Subtotal, inv.DiscountAmount, inv.TaxAmount, inv.Total, inv.AmountPaid,
		inv.PaymentStatus, inv.DueDate, inv.Notes, inv.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, inv.ID); getErr != nil {
			return getErr
		}
		return errs.Conflict(fmt.Sprintf("invoice %s was modified concurrently", inv.InvoiceID), nil)
	}
	inv.VersionID++
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invoiceCols+`
		FROM invoice WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectInvoices(rows)
	return items, total, err
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if status, ok := params["payment_status"]; ok && status != "" {
		where += fmt.Sprintf(` AND payment_status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if overdue, ok := params["overdue"]; ok && overdue == "true" {
		where += ` AND due_date < NOW() AND payment_status NOT IN ('paid', 'refunded')`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM invoice %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		invoiceCols, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectInvoices(rows)
	return items, total, err
}

func collectInvoices(rows pgx.Rows) ([]*Invoice, error) {
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

// =========== Line Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

func (r *itemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *itemRepoPG) ReplaceAll(ctx context.Context, invoiceID uuid.UUID, items []*LineItem) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM invoice_line_item WHERE invoice_id = $1`, invoiceID); err != nil {
		return err
	}
	for _, it := range items {
		it.ID = uuid.New()
		it.InvoiceID = invoiceID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_line_item (id, invoice_id, description, quantity, unit_price, discount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.InvoiceID, it.Description, it.Quantity, it.UnitPrice, it.Discount); err != nil {
			return err
		}
	}
	return nil
}

func (r *itemRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price, discount
		FROM invoice_line_item WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.Discount); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *paymentRepoPG) Append(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_payment (id, invoice_id, amount, method, reference, received_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.ReceivedBy)
	return err
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, received_by, received_at
		FROM invoice_payment WHERE invoice_id = $1 ORDER BY received_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy, &p.ReceivedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
