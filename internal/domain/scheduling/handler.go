package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read := api.Group("", auth.RequireRole("clinician", "receptionist", "billing"))
	read.GET("/appointments", h.List)
	read.GET("/appointments/:id", h.Get)

	write := api.Group("", auth.RequireRole("clinician", "receptionist"))
	write.POST("/appointments", h.Create)
	write.PUT("/appointments/:id", h.Update)
	write.PATCH("/appointments/:id/status", h.UpdateStatus)
	write.POST("/appointments/:id/reschedule", h.Reschedule)
	write.POST("/appointments/:id/charges", h.AddCharge)
}

type createRequest struct {
	Appointment
	AdditionalCharges []*Charge `json:"additional_charges,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &req.Appointment, req.AdditionalCharges); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, req.Appointment)
}

func (h *Handler) Get(c echo.Context) error {
	ref := c.Param("id")
	if id, err := uuid.Parse(ref); err == nil {
		a, err := h.svc.Get(c.Request().Context(), id)
		if err != nil {
			return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
		}
		return c.JSON(http.StatusOK, a)
	}
	a, err := h.svc.GetByAppointmentID(c.Request().Context(), ref)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, a)
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

	if doctorID := c.QueryParam("doctor_id"); doctorID != "" {
		var date *time.Time
		if d := c.QueryParam("date"); d != "" {
			parsed, err := time.Parse("2006-01-02", d)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			}
			date = &parsed
		}
		items, total, err := h.svc.ListByDoctor(ctx, doctorID, date, pg.Limit, pg.Offset)
		if err != nil {
			return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	params := map[string]string{
		"status": c.QueryParam("status"),
		"date":   c.QueryParam("date"),
		"type":   c.QueryParam("type"),
	}
	items, total, err := h.svc.Search(ctx, params, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = id
	if err := h.svc.Update(c.Request().Context(), &a); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Date string `json:"appointment_date"`
		Time string `json:"appointment_time"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_date, want YYYY-MM-DD")
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, date, req.Time)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) AddCharge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var charge Charge
	if err := c.Bind(&charge); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	charge.AppointmentID = id
	a, err := h.svc.AddCharge(c.Request().Context(), &charge)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, a)
}
