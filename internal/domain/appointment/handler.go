package appointment

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/platform/auth"
	"github.com/aqms/aqms/pkg/apperrors"
	"github.com/aqms/aqms/pkg/pagination"
)

type Handler struct {
	svc *Service
	gen *Generator
}

func NewHandler(svc *Service, gen *Generator) *Handler {
	return &Handler{svc: svc, gen: gen}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/clinics/:id/slots/generate", h.Generate)
	admin.POST("/clinics/:id/slots/delete-dates", h.DeleteDates)
	admin.GET("/clinics/:id/slots/dates", h.DatesWithSlots)

	shared := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RolePatient))
	shared.GET("/slots", h.Search)
	shared.GET("/slots/:id", h.Get)
	shared.POST("/slots/:id/book", h.Book)
	shared.POST("/slots/:id/cancel", h.Cancel)
	shared.POST("/slots/:id/reschedule", h.Reschedule)
	shared.GET("/patients/me/appointments", h.MyAppointments)

	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.GET("/slots/:id/history", h.History)
	staff.POST("/slots/:id/check-in", h.CheckIn)
	staff.POST("/slots/:id/no-show", h.MarkNoShow)
	staff.POST("/slots/:id/treatment", h.RecordTreatment)
	staff.POST("/slots/:id/complete", h.Complete)
	staff.PUT("/slots/:id/doctor", h.AssignDoctor)
	staff.POST("/queue/:id/cancel", h.CancelQueueEntry)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actorOf(c echo.Context) auth.Actor {
	return auth.ActorFromContext(c.Request().Context())
}

// -- Generation --

type generateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Mode Mode   `json:"mode"`
}

func (h *Handler) Generate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	from, err := calendar.ParseDate(req.From)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
	}
	to, err := calendar.ParseDate(req.To)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
	}
	if req.Mode == "" {
		req.Mode = ModeSkip
	}
	report, err := h.gen.GenerateRange(c.Request().Context(), id, from, to, Mode(strings.ToUpper(string(req.Mode))))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, report)
}

type deleteDatesRequest struct {
	Dates []string `json:"dates"`
}

func (h *Handler) DeleteDates(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req deleteDatesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dates := make([]time.Time, 0, len(req.Dates))
	for _, raw := range req.Dates {
		d, err := calendar.ParseDate(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "dates must be YYYY-MM-DD")
		}
		dates = append(dates, d)
	}
	report, err := h.gen.DeleteSlotsOnDates(c.Request().Context(), id, dates)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) DatesWithSlots(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	from, err := calendar.ParseDate(c.QueryParam("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
	}
	to, err := calendar.ParseDate(c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
	}
	dates, err := h.gen.DatesWithSlots(c.Request().Context(), id, from, to)
	if err != nil {
		return apperrors.HTTP(err)
	}
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(calendar.DateLayout))
	}
	return c.JSON(http.StatusOK, out)
}

// -- Slot reads --

// Search serves GET /slots. Patients only ever see available slots here.
func (h *Handler) Search(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Limit: pg.Limit, Offset: pg.Offset}
	for _, key := range []string{"clinic_id", "doctor_id", "patient_id"} {
		raw := c.QueryParam(key)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+key)
		}
		switch key {
		case "clinic_id":
			f.ClinicID = &id
		case "doctor_id":
			f.DoctorID = &id
		case "patient_id":
			f.PatientID = &id
		}
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, Status(strings.ToUpper(strings.TrimSpace(st))))
		}
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := c.QueryParam(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, key+" must be RFC 3339")
		}
		*dst = &t
	}
	if actorOf(c).IsPatient() {
		f.PatientID = nil
		f.Statuses = []Status{StatusAvailable}
	}
	items, total, err := h.svc.Search(c.Request().Context(), f)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	slot, err := h.svc.Get(c.Request().Context(), id, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return apperrors.HTTP(err)
	}
	if items == nil {
		items = []*History{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MyAppointments(c echo.Context) error {
	patientID, err := actorOf(c).PatientID()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "caller is not a patient")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.PatientAppointments(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

// -- Slot transitions --

type bookRequest struct {
	PatientID *uuid.UUID `json:"patient_id"`
}

// Book books for the calling patient. Staff book on behalf of patient_id.
func (h *Handler) Book(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := actorOf(c)
	var patientID uuid.UUID
	switch {
	case req.PatientID != nil:
		patientID = *req.PatientID
	case actor.IsPatient():
		if patientID, err = actor.PatientID(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "caller is not a patient")
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	slot, err := h.svc.Book(c.Request().Context(), id, patientID, actor)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	slot, err := h.svc.Cancel(c.Request().Context(), id, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

// CancelQueueEntry serves POST /queue/:id/cancel, keyed by queue entry id.
func (h *Handler) CancelQueueEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	slot, err := h.svc.CancelQueueEntry(c.Request().Context(), id, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

type rescheduleRequest struct {
	NewSlotID uuid.UUID `json:"new_slot_id"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.NewSlotID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "new_slot_id is required")
	}
	slot, err := h.svc.Reschedule(c.Request().Context(), id, req.NewSlotID, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) CheckIn(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.CheckIn(c.Request().Context(), id, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	slot, err := h.svc.MarkNoShow(c.Request().Context(), id, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

type treatmentRequest struct {
	Treatment string `json:"treatment"`
}

func (h *Handler) RecordTreatment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req treatmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.RecordTreatment(c.Request().Context(), id, req.Treatment, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.Complete(c.Request().Context(), id, req, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

type assignDoctorRequest struct {
	DoctorID *uuid.UUID `json:"doctor_id"`
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req assignDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.AssignDoctor(c.Request().Context(), id, req.DoctorID, actorOf(c))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}
