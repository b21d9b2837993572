package patient

import (
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
	read := api.Group("", auth.RequireRole("clinician", "receptionist", "billing"))
	read.GET("/patients", h.List)
	read.GET("/patients/:id", h.Get)
	read.GET("/patients/:id/vitals", h.ListVitals)
	read.GET("/patients/:id/allergies", h.ListAllergies)
	read.GET("/patients/:id/medications", h.ListMedications)

	write := api.Group("", auth.RequireRole("clinician", "receptionist"))
	write.POST("/patients", h.Create)
	write.PUT("/patients/:id", h.Update)
	write.DELETE("/patients/:id", h.Deactivate)
	write.POST("/patients/:id/vitals", h.AddVitals)
	write.POST("/patients/:id/allergies", h.AddAllergy)
	write.PUT("/patients/:id/allergies/:entryId", h.UpdateAllergy)
	write.DELETE("/patients/:id/allergies/:entryId", h.RemoveAllergy)
	write.POST("/patients/:id/medications", h.AddMedication)
	write.PUT("/patients/:id/medications/:entryId", h.UpdateMedication)
	write.DELETE("/patients/:id/medications/:entryId", h.RemoveMedication)
}

type createRequest struct {
	Patient
	Vitals *VitalsSnapshot `json:"vitals,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &req.Patient, req.Vitals); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, req.Patient)
}

func (h *Handler) Get(c echo.Context) error {
	ref := c.Param("id")
	if id, err := uuid.Parse(ref); err == nil {
		p, err := h.svc.Get(c.Request().Context(), id)
		if err != nil {
			return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
		}
		return c.JSON(http.StatusOK, p)
	}
	// Fall back to the business identifier (P2026...).
	p, err := h.svc.GetByPatientID(c.Request().Context(), ref)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{
		"status": c.QueryParam("status"),
		"name":   c.QueryParam("name"),
	}
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
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
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.Update(c.Request().Context(), &p); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) AddVitals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var v VitalsSnapshot
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v.PatientID = id
	if err := h.svc.AddVitals(c.Request().Context(), &v); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVitals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVitals(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddAllergy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a AllergyEntry
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.PatientID = id
	if err := h.svc.AddAllergy(c.Request().Context(), &a); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAllergy(c echo.Context) error {
	patientID, entryID, err := childIDs(c)
	if err != nil {
		return err
	}
	var a AllergyEntry
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.PatientID, a.ID = patientID, entryID
	if err := h.svc.UpdateAllergy(c.Request().Context(), &a); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RemoveAllergy(c echo.Context) error {
	patientID, entryID, err := childIDs(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveAllergy(c.Request().Context(), patientID, entryID); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAllergies(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListAllergies(c.Request().Context(), id)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddMedication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var m MedicationEntry
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.PatientID = id
	if err := h.svc.AddMedication(c.Request().Context(), &m); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) UpdateMedication(c echo.Context) error {
	patientID, entryID, err := childIDs(c)
	if err != nil {
		return err
	}
	var m MedicationEntry
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.PatientID, m.ID = patientID, entryID
	if err := h.svc.UpdateMedication(c.Request().Context(), &m); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) RemoveMedication(c echo.Context) error {
	patientID, entryID, err := childIDs(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveMedication(c.Request().Context(), patientID, entryID); err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMedications(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListMedications(c.Request().Context(), id)
	if err != nil {
		return c.JSON(errs.HTTPStatus(err), errs.Payload(err))
	}
	return c.JSON(http.StatusOK, items)
}

func childIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entryID, err := uuid.Parse(c.Param("entryId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid entry id")
	}
	return patientID, entryID, nil
}
