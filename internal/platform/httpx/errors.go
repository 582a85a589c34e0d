package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Problem is the JSON error body returned by the API.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (p Problem) Error() string { return p.Code + ": " + p.Message }

// NewError builds an echo error carrying a machine-readable code.
func NewError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, Problem{Code: code, Message: message})
}

// ErrorHandler renders every error as {"error": Problem}. Unexpected errors
// are logged and reported as a generic 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		rid, _ := c.Get("request_id").(string)
		status := http.StatusInternalServerError
		problem := Problem{Code: "internal_error", Message: "internal server error"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch m := he.Message.(type) {
			case Problem:
				problem = m
			case string:
				problem = Problem{Code: codeForStatus(status), Message: m}
			default:
				problem = Problem{Code: codeForStatus(status), Message: http.StatusText(status)}
			}
		}
		if status >= 500 {
			logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
		}
		problem.RequestID = rid

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, map[string]Problem{"error": problem})
	}
}

func codeForStatus(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// DomainError is implemented by business errors that know how they should be
// reported over HTTP.
type DomainError interface {
	error
	HTTPStatus() int
	ErrorCode() string
}

// FromDomain converts a DomainError anywhere in err's chain into an echo
// error. Other errors are returned unchanged and end up as 500.
func FromDomain(err error) error {
	var de DomainError
	if errors.As(err, &de) {
		return NewError(de.HTTPStatus(), de.ErrorCode(), de.Error())
	}
	return err
}
