package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout attaches a deadline to each request context. Store calls
// observe it, so a request stuck on a lock fails with 504 instead of hanging.
// A transaction that already committed is unaffected.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				if err != nil && errors.Is(err, context.DeadlineExceeded) {
					return timeoutError()
				}
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return timeoutError()
				}
				return ctx.Err()
			}
		}
	}
}

func timeoutError() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusGatewayTimeout, map[string]string{
		"code":    "TIMEOUT",
		"message": "request processing exceeded the allowed time limit",
	})
}
