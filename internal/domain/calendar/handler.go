package calendar

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aqms/aqms/internal/platform/auth"
	"github.com/aqms/aqms/pkg/apperrors"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RolePatient))
	read.GET("/clinics/:id", h.GetClinic)
	read.GET("/clinics/:id/doctors", h.ListDoctors)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/clinics", h.CreateClinic)
	admin.PUT("/clinics/:id/template", h.SaveTemplate)
	admin.POST("/clinics/:id/exceptions", h.AddException)
	admin.DELETE("/clinics/:id/exceptions/:date", h.RemoveException)
	admin.POST("/clinics/:id/doctors", h.CreateDoctor)
	admin.PUT("/doctors/:id", h.UpdateDoctor)
	admin.DELETE("/doctors/:id", h.DeleteDoctor)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Clinic Handlers --

func (h *Handler) CreateClinic(c echo.Context) error {
	var clinic Clinic
	if err := c.Bind(&clinic); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateClinic(c.Request().Context(), &clinic); err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusCreated, clinic)
}

func (h *Handler) GetClinic(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	clinic, err := h.svc.GetClinic(c.Request().Context(), id)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, clinic)
}

func (h *Handler) SaveTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t Template
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clinic, err := h.svc.SaveTemplate(c.Request().Context(), id, t)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, clinic)
}

type exceptionRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

func (h *Handler) AddException(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req exceptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if err := h.svc.AddException(c.Request().Context(), id, date, req.Reason); err != nil {
		return apperrors.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RemoveException(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if err := h.svc.RemoveException(c.Request().Context(), id, date); err != nil {
		return apperrors.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Doctor Handlers --

func (h *Handler) CreateDoctor(c echo.Context) error {
	clinicID, err := parseID(c)
	if err != nil {
		return err
	}
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ClinicID = clinicID
	if err := h.svc.CreateDoctor(c.Request().Context(), &d); err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	clinicID, err := parseID(c)
	if err != nil {
		return err
	}
	docs, err := h.svc.ListDoctors(c.Request().Context(), clinicID)
	if err != nil {
		return apperrors.HTTP(err)
	}
	if docs == nil {
		docs = []*Doctor{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	if err := h.svc.UpdateDoctor(c.Request().Context(), &d); err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDoctor(c.Request().Context(), id); err != nil {
		return apperrors.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
