package records

import (
	"context"
	"net/http"

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
	// Clinical content is restricted to clinicians. Admin passes through the
	// role override.
	g := api.Group("", auth.RequireRole("clinician"))
	g.GET("/medical-records", h.List)
	g.GET("/medical-records/:id", h.Get)
	g.GET("/medical-records/:id/access-log", h.AccessLog)
	g.GET("/medical-records/:id/revisions", h.Revisions)
	g.POST("/medical-records", h.Create)
	g.PUT("/medical-records/:id", h.Update)
	g.POST("/medical-records/:id/sign", h.Sign)
	g.POST("/medical-records/:id/amend", h.Amend)
	g.POST("/medical-records/:id/correct", h.Correct)
	g.POST("/medical-records/:id/archive", h.Archive)
	g.POST("/medical-records/:id/access", h.LogAccess)
}

func accessor(c echo.Context) Accessor {
	actor := auth.ActorFromContext(c.Request().Context())
	return Accessor{
		ID:      actor.ID,
		Name:    actor.Name,
		Purpose: c.QueryParam("purpose"),
	}
}

func recordID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var r MedicalRecord
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &r); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ref := c.Param("id")
	if id, err := uuid.Parse(ref); err == nil {
		r, err := h.svc.Get(ctx, id, accessor(c))
		if err != nil {
			return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
		}
		return c.JSON(http.StatusOK, r)
	}
	r, err := h.svc.GetByRecordID(ctx, ref, accessor(c))
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, r)
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

	if status := c.QueryParam("status"); status != "" && !validStatus(status) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	params := map[string]string{
		"doctor_id":       c.QueryParam("doctor_id"),
		"status":          c.QueryParam("status"),
		"visit_date_from": c.QueryParam("visit_date_from"),
		"visit_date_to":   c.QueryParam("visit_date_to"),
	}
	items, total, err := h.svc.Search(ctx, params, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var r MedicalRecord
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	if err := h.svc.Update(c.Request().Context(), &r, accessor(c)); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, r)
}

type signRequest struct {
	SignatureToken string `json:"signature_token"`
}

func (h *Handler) Sign(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Sign(c.Request().Context(), id, req.SignatureToken, accessor(c))
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, r)
}

type reviseRequest struct {
	Reason  string        `json:"reason"`
	Changes MedicalRecord `json:"changes"`
}

func (h *Handler) Amend(c echo.Context) error {
	return h.revise(c, h.svc.Amend)
}

func (h *Handler) Correct(c echo.Context) error {
	return h.revise(c, h.svc.Correct)
}

func (h *Handler) revise(c echo.Context, apply func(ctx context.Context, id uuid.UUID, changes *MedicalRecord, reason string, by Accessor) (*MedicalRecord, error)) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req reviseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := apply(c.Request().Context(), id, &req.Changes, req.Reason, accessor(c))
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Archive(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Archive(c.Request().Context(), id, accessor(c))
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, r)
}

type accessRequest struct {
	AccessType string `json:"access_type"`
	Purpose    string `json:"purpose"`
}

func (h *Handler) LogAccess(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req accessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	by := accessor(c)
	by.Purpose = req.Purpose
	if err := h.svc.LogAccess(c.Request().Context(), id, req.AccessType, by); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AccessLog(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.AccessLog(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Revisions(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Revisions(c.Request().Context(), id)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, items)
}
