// Package middleware provides HTTP middleware components.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"bondstock/internal/core/apperror"
	"bondstock/pkg/logger"
)

// Recovery turns a handler panic into a 500 response and releases any
// idempotency key the request held. The stack is logged, never returned.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// The client went away; let net/http handle it.
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.Error(c.Request.Context(), "panic recovered",
				"panic", rec,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"stack", string(debug.Stack()),
			)

			err := apperror.NewInternal(fmt.Errorf("panic: %v", rec)).
				WithDetail("request_id", c.GetString("request_id"))
			_ = c.Error(err)

			if c.Writer.Written() {
				c.Abort()
				return
			}

			status, body := errorBody(c, err)
			if key, store, ok := idempotencyFrom(c); ok {
				_ = store.FailKey(c.Request.Context(), key, status, "application/json", body)
			}
			c.AbortWithStatusJSON(status, body)
		}()
		c.Next()
	}
}
