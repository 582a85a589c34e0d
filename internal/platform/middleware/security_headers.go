package middleware

import (
	"github.com/labstack/echo/v4"
)

// apiHeaders are set on every response. Appointment and payment payloads
// carry personal data, so nothing may be cached or framed.
var apiHeaders = [...][2]string{
	{echo.HeaderXContentTypeOptions, "nosniff"},
	{echo.HeaderXFrameOptions, "DENY"},
	{echo.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'"},
	{echo.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains"},
	{echo.HeaderReferrerPolicy, "no-referrer"},
	{"Cache-Control", "no-store"},
}

func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
