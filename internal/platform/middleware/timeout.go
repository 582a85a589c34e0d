package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/blume/blume/internal/platform/httpx"
)

// RequestTimeout puts a deadline on the request context. Services pass the
// context to pgx and the broker, so a slow query is cancelled there; a
// handler that ran past the deadline without writing a response is
// answered with 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if c.Response().Committed {
				return err
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return httpx.NewError(http.StatusGatewayTimeout, "timeout", "request processing exceeded the allowed time limit")
			}
			return err
		}
	}
}
