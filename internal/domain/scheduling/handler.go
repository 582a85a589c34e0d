package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	staff.POST("/schedule-windows", h.CreateWindow)
	staff.PUT("/schedule-windows/:id", h.UpdateWindow)
	staff.DELETE("/schedule-windows/:id", h.DeactivateWindow)
	staff.POST("/appointments/:id/confirm", h.Confirm)
	staff.POST("/appointments/:id/complete", h.Complete)
	staff.POST("/appointments/:id/no-show", h.MarkNoShow)

	members := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	members.GET("/doctors/:doctor_id/windows", h.ListWindows)
	members.GET("/doctors/:doctor_id/slots", h.ListSlots)
	members.POST("/appointments/validate", h.ValidateSlot)
	members.POST("/appointments", h.CreateAppointment)
	members.GET("/appointments/:id", h.GetAppointment)
	members.PUT("/appointments/:id", h.UpdateAppointment)
	members.POST("/appointments/:id/cancel", h.Cancel)
}

// MapError translates scheduling errors into HTTP errors.
func MapError(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrWindowNotFound) {
		return httpx.NewError(http.StatusNotFound, "not_found", err.Error())
	}
	return httpx.FromDomain(err)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Schedule windows --

type windowRequest struct {
	DoctorID            uuid.UUID `json:"doctor_id"`
	Weekday             *int      `json:"weekday" validate:"required,min=0,max=6"`
	StartTime           string    `json:"start_time" validate:"required,clock"`
	EndTime             string    `json:"end_time" validate:"required,clock"`
	SlotDurationMinutes int       `json:"slot_duration_minutes" validate:"omitempty,min=1,max=120"`
}

func (r *windowRequest) input(actor auth.Actor) (WindowInput, error) {
	start, err := ParseClock(r.StartTime)
	if err != nil {
		return WindowInput{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	end, err := ParseClock(r.EndTime)
	if err != nil {
		return WindowInput{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID := r.DoctorID
	if doctorID == uuid.Nil && actor.IsDoctor() {
		doctorID = actor.ID
	}
	if doctorID == uuid.Nil {
		return WindowInput{}, echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	return WindowInput{
		DoctorID:            doctorID,
		Weekday:             time.Weekday(*r.Weekday),
		StartMinute:         start,
		EndMinute:           end,
		SlotDurationMinutes: r.SlotDurationMinutes,
	}, nil
}

func (h *Handler) CreateWindow(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req windowRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	in, err := req.input(actor)
	if err != nil {
		return err
	}
	w, err := h.svc.CreateWindow(c.Request().Context(), actor, in)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) UpdateWindow(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req windowRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	in, err := req.input(actor)
	if err != nil {
		return err
	}
	w, err := h.svc.UpdateWindow(c.Request().Context(), actor, id, in)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeactivateWindow(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.svc.DeactivateWindow(c.Request().Context(), actor, id); err != nil {
		return MapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListWindows(c echo.Context) error {
	doctorID, err := parseID(c, "doctor_id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var windows []*ScheduleWindow
	if wd := c.QueryParam("weekday"); wd != "" {
		n, err := strconv.Atoi(wd)
		if err != nil || n < 0 || n > 6 {
			return echo.NewHTTPError(http.StatusBadRequest, "weekday must be between 0 and 6")
		}
		windows, err = h.svc.ListActiveWindows(ctx, doctorID, time.Weekday(n))
		if err != nil {
			return MapError(err)
		}
	} else {
		windows, err = h.svc.ListDoctorWindows(ctx, doctorID)
		if err != nil {
			return MapError(err)
		}
	}
	if windows == nil {
		windows = []*ScheduleWindow{}
	}
	return c.JSON(http.StatusOK, windows)
}

func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := parseID(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := time.ParseInLocation(time.DateOnly, c.QueryParam("date"), h.svc.Location())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return MapError(err)
	}
	if slots == nil {
		slots = []Slot{}
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Appointments --

type validateRequest struct {
	DoctorID  uuid.UUID  `json:"doctor_id" validate:"required"`
	Start     time.Time  `json:"start" validate:"required"`
	End       time.Time  `json:"end" validate:"required"`
	ExcludeID *uuid.UUID `json:"exclude_id"`
}

func (h *Handler) ValidateSlot(c echo.Context) error {
	var req validateRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ValidateSlot(c.Request().Context(), req.DoctorID, req.Start, req.End, req.ExcludeID); err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

type bookingRequest struct {
	PatientID uuid.UUID        `json:"patient_id"`
	DoctorID  uuid.UUID        `json:"doctor_id" validate:"required"`
	Start     time.Time        `json:"start" validate:"required"`
	End       time.Time        `json:"end" validate:"required"`
	Reason    string           `json:"reason" validate:"max=2000"`
	Cost      *decimal.Decimal `json:"cost"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req bookingRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	if req.PatientID == uuid.Nil && actor.IsPatient() {
		req.PatientID = actor.ID
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), actor, BookingRequest{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Start:     req.Start,
		End:       req.End,
		Reason:    req.Reason,
		Cost:      req.Cost,
	})
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type updateRequest struct {
	Start  *time.Time `json:"start"`
	End    *time.Time `json:"end"`
	Reason *string    `json:"reason" validate:"omitempty,max=2000"`
	Notes  *string    `json:"notes"`
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), actor, id, AppointmentUpdate{
		Start:  req.Start,
		End:    req.End,
		Reason: req.Reason,
		Notes:  req.Notes,
	})
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Confirm(c.Request().Context(), actor, id)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type completeRequest struct {
	Diagnosis string `json:"diagnosis"`
	Notes     string `json:"notes"`
}

func (h *Handler) Complete(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req completeRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Complete(c.Request().Context(), actor, id, req.Diagnosis, req.Notes)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type noShowRequest struct {
	Party  string `json:"party" validate:"required,oneof=patient doctor"`
	Reason string `json:"reason" validate:"max=2000"`
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req noShowRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.MarkNoShow(c.Request().Context(), actor, id, NoShowParty(req.Party), req.Reason)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}
