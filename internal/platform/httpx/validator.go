package httpx

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("clock", validateClock)
	return &Validator{validate: v}
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, Problem{
			Code:    "invalid_request",
			Message: FormatValidationError(err),
		})
	}
	return nil
}

// validateClock accepts a time of day written as HH:MM, plus "24:00" for
// the end of the day.
func validateClock(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if v == "24:00" {
		return true
	}
	_, err := time.Parse("15:04", v)
	return err == nil
}

// FormatValidationError flattens validator errors into "field: rule" pairs.
func FormatValidationError(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.ToLower(e.Field())
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, e.Tag(), e.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, e.Tag()))
	}
	return strings.Join(msgs, ", ")
}

// BindAndValidate decodes the request into obj and runs the echo validator.
func BindAndValidate(c echo.Context, obj interface{}) error {
	if err := c.Bind(obj); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, Problem{
			Code:    "invalid_request",
			Message: "invalid request body",
		})
	}
	return c.Validate(obj)
}
