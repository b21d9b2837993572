package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/errs"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("billing", "receptionist", "clinician"))
	read.GET("/invoices", h.List)
	read.GET("/invoices/:id", h.Get)
	read.GET("/invoices/:id/payments", h.Payments)

	write := api.Group("", auth.RequireRole("billing"))
	write.POST("/invoices", h.Create)
	write.PUT("/invoices/:id", h.Update)
	write.POST("/invoices/:id/recompute", h.Recompute)
	write.POST("/invoices/:id/payments", h.RecordPayment)
}

func invoiceID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}
	return id, nil
}

type createRequest struct {
	Invoice
	LineItems []*LineItem      `json:"items"`
	Tax       *decimal.Decimal `json:"tax_rate,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &req.Invoice, req.LineItems, req.Tax); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, req.Invoice)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ref := c.Param("id")
	if id, err := uuid.Parse(ref); err == nil {
		inv, err := h.svc.Get(ctx, id)
		if err != nil {
			return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
		}
		return c.JSON(http.StatusOK, inv)
	}
	inv, err := h.svc.GetByInvoiceID(ctx, ref)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if pid := c.QueryParam("patient_id"); pid != "" {
		patientID, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	params := map[string]string{
		"payment_status": c.QueryParam("payment_status"),
		"overdue":        c.QueryParam("overdue"),
	}
	items, total, err := h.svc.Search(ctx, params, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Invoice.ID = id
	if req.Tax != nil {
		req.Invoice.TaxRate = *req.Tax
	}
	if err := h.svc.Update(c.Request().Context(), &req.Invoice, req.LineItems); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, req.Invoice)
}

func (h *Handler) Recompute(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.RecomputeTotals(c.Request().Context(), id)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	var p Payment
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.InvoiceID = id
	if p.ReceivedBy == "" {
		p.ReceivedBy = auth.ActorFromContext(c.Request().Context()).ID
	}
	inv, err := h.svc.RecordPayment(c.Request().Context(), &p)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Payments(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Payments(c.Request().Context(), id)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, items)
}
