package queue

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aqms/aqms/internal/domain/calendar"
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
	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.POST("/clinics/:id/queue/start", h.Start)
	staff.POST("/clinics/:id/queue/pause", h.Pause)
	staff.POST("/clinics/:id/queue/resume", h.Resume)
	staff.POST("/clinics/:id/queue/call-next", h.CallNext)
	staff.GET("/clinics/:id/queue", h.Snapshot)
	staff.POST("/queue/:id/fast-track", h.FastTrack)
	staff.POST("/queue/:id/serving", h.MarkServing)
	staff.POST("/queue/:id/skip", h.Skip)
	staff.POST("/queue/:id/no-show", h.MarkNoShow)
	staff.POST("/queue/:id/requeue", h.Requeue)

	shared := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RolePatient))
	shared.GET("/clinics/:id/queue/status", h.Status)
	shared.GET("/patients/me/queue", h.MyPosition)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Session --

func (h *Handler) Start(c echo.Context) error {
	return h.session(c, h.svc.Start)
}

func (h *Handler) Pause(c echo.Context) error {
	return h.session(c, h.svc.Pause)
}

func (h *Handler) Resume(c echo.Context) error {
	return h.session(c, h.svc.Resume)
}

func (h *Handler) Status(c echo.Context) error {
	return h.session(c, h.svc.Status)
}

func (h *Handler) session(c echo.Context, op func(ctx context.Context, clinicID uuid.UUID) (*Session, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := op(c.Request().Context(), id)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// -- Dispatch --

func (h *Handler) CallNext(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.CallNext(c.Request().Context(), id)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Snapshot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var date *time.Time
	if raw := c.QueryParam("date"); raw != "" {
		d, err := calendar.ParseDate(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		date = &d
	}
	snap, err := h.svc.Snapshot(c.Request().Context(), id, date)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type fastTrackRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) FastTrack(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req fastTrackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.FastTrack(c.Request().Context(), id, req.Reason)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) MarkServing(c echo.Context) error {
	return h.entry(c, h.svc.MarkServing)
}

func (h *Handler) Skip(c echo.Context) error {
	return h.entry(c, h.svc.Skip)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.entry(c, h.svc.MarkNoShow)
}

func (h *Handler) Requeue(c echo.Context) error {
	return h.entry(c, h.svc.Requeue)
}

func (h *Handler) entry(c echo.Context, op func(ctx context.Context, id uuid.UUID) (*Entry, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := op(c.Request().Context(), id)
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

// MyPosition serves GET /patients/me/queue?slot_id=.
func (h *Handler) MyPosition(c echo.Context) error {
	slotID, err := uuid.Parse(c.QueryParam("slot_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "slot_id is required")
	}
	ctx := c.Request().Context()
	pos, err := h.svc.Position(ctx, slotID, auth.ActorFromContext(ctx))
	if err != nil {
		return apperrors.HTTP(err)
	}
	return c.JSON(http.StatusOK, pos)
}
