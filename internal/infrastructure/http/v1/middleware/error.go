package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
	"bondstock/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		status, body := errorBody(c, err)

		// Mark idempotency as failed with the exact response we return (best-effort).
		if key, store, ok := idempotencyFrom(c); ok {
			_ = store.FailKey(c.Request.Context(), key, status, "application/json", body)
		}

		c.JSON(status, body)
	}
}

func errorBody(c *gin.Context, err error) (int, gin.H) {
	appErr, ok := apperror.AsAppError(err)
	if !ok {
		logger.Error(c.Request.Context(), "unhandled error",
			"error", err,
		)
		return http.StatusInternalServerError, gin.H{
			"code":    apperror.CodeInternal,
			"message": "Internal server error",
			"details": map[string]any{
				"request_id": c.GetString("request_id"),
			},
		}
	}

	if appErr.Err != nil {
		logger.Error(c.Request.Context(), "request error",
			"code", appErr.Code,
			"cause", appErr.Err,
		)
	}

	details := appErr.Details
	// A partially applied cascade tells the client where to resume.
	if ce, ok := snapshot.AsCascadeError(err); ok {
		if details == nil {
			details = map[string]any{}
		}
		details["resume_from"] = ce.ResumeFrom.Format(types.DateLayout)
		details["affected"] = len(ce.Affected)
	}

	return appErr.HTTPStatus, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": details,
	}
}
