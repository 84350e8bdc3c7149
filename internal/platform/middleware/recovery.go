package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 whose Internal error carries the
// panic value. http.ErrAbortHandler is re-raised so net/http can drop the
// connection. The goroutine stack is only logged at debug level.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}
				rid, _ := c.Get("request_id").(string)

				evt := logger.Error().
					Err(cause).
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Int("status", http.StatusInternalServerError)
				if logger.GetLevel() <= zerolog.DebugLevel {
					evt = evt.Bytes("stack", debug.Stack())
				}
				evt.Msg("handler panicked")

				he := echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				err = he.SetInternal(cause)
			}()
			return next(c)
		}
	}
}
