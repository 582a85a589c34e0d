package rescheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/blume/blume/internal/domain/scheduling"
	"github.com/blume/blume/internal/platform/auth"
	"github.com/blume/blume/internal/platform/httpx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor))
	staff.POST("/reschedule-requests/:id/approve", h.Approve)
	staff.POST("/reschedule-requests/:id/reject", h.Reject)

	members := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	members.POST("/appointments/:id/reschedule-requests", h.Create)
	members.GET("/appointments/:id/reschedule-requests", h.List)
	members.GET("/appointments/:id/reschedule-alternatives", h.Alternatives)
	members.GET("/reschedule-requests/:id", h.Get)
	members.POST("/reschedule-requests/:id/cancel", h.Cancel)
}

func mapError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return httpx.NewError(http.StatusNotFound, "not_found", err.Error())
	}
	return scheduling.MapError(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type createRequest struct {
	Category      ReasonCategory `json:"reason_category" validate:"omitempty,oneof=patient_no_show doctor_no_show medical_emergency patient_request scheduling_error"`
	Description   string         `json:"description" validate:"max=2000"`
	Justification string         `json:"justification" validate:"max=2000"`
	ProposedDates []time.Time    `json:"proposed_dates"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	r, err := h.svc.RequestReschedule(c.Request().Context(), actor, id, RequestDetails{
		Category:      req.Category,
		Description:   req.Description,
		Justification: req.Justification,
		ProposedDates: req.ProposedDates,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Request{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Alternatives(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	dates, err := h.svc.ProposeAlternatives(c.Request().Context(), actor, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string][]time.Time{"proposed_dates": dates})
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

type approveRequest struct {
	SelectedDate      time.Time `json:"selected_date" validate:"required"`
	CreateAppointment *bool     `json:"create_appointment"`
}

func (h *Handler) Approve(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req approveRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	create := req.CreateAppointment == nil || *req.CreateAppointment
	r, err := h.svc.Approve(c.Request().Context(), actor, id, req.SelectedDate, create)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) Reject(c echo.Context) error {
	return h.withReason(c, h.svc.Reject)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.withReason(c, h.svc.Cancel)
}

func (h *Handler) withReason(c echo.Context,
	fn func(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Request, error)) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	r, err := fn(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}
