package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	admin := api.Group("", auth.RequireRole())
	admin.POST("/appointments/:id/refund", h.CreateRefund)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor))
	staff.POST("/appointments/:id/charges", h.CreateAdditionalCharge)
	staff.POST("/payments/:id/confirm", h.ConfirmPayment)

	members := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	members.POST("/appointments/:id/payments", h.CreateInitialPayment)
	members.GET("/appointments/:id/payments", h.ListPayments)
	members.GET("/payments/:id", h.GetPayment)
	members.POST("/payments/:id/process", h.ProcessPayment)
	members.POST("/payments/:id/cancel", h.CancelPayment)
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

type paymentRequest struct {
	Method Method `json:"method" validate:"required,oneof=cash card transfer yape plin other"`
}

func (h *Handler) CreateInitialPayment(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.CreateInitialPayment(c.Request().Context(), actor, id, req.Method)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type chargeRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Concept string          `json:"concept" validate:"required,max=255"`
	Method  Method          `json:"method" validate:"required,oneof=cash card transfer yape plin other"`
}

func (h *Handler) CreateAdditionalCharge(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req chargeRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.CreateAdditionalCharge(c.Request().Context(), actor, id, req.Amount, req.Concept, req.Method)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) CreateRefund(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req refundRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.CreateRefund(c.Request().Context(), id, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPayments(c.Request().Context(), actor, id)
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Payment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPayment(c echo.Context) error {
	return h.paymentAction(c, h.svc.GetPayment)
}

func (h *Handler) ProcessPayment(c echo.Context) error {
	return h.paymentAction(c, h.svc.ProcessPayment)
}

func (h *Handler) ConfirmPayment(c echo.Context) error {
	return h.paymentAction(c, h.svc.ConfirmPayment)
}

func (h *Handler) CancelPayment(c echo.Context) error {
	return h.paymentAction(c, h.svc.CancelPayment)
}

// paymentAction runs a service call that takes the actor and the payment id
// from the path.
func (h *Handler) paymentAction(c echo.Context,
	fn func(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Payment, error)) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := fn(c.Request().Context(), actor, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}
