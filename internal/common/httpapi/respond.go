// Package httpapi holds the shared HTTP response helpers: every handler
// package maps service errors through the same canonical envelope.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/logger"
)

// Error writes the canonical error envelope {error:true, code, message} for
// err. Unclassified errors are logged and reported as internal.
func Error(c *gin.Context, log *logger.Logger, err error) {
	status, envelope := apperrors.ToEnvelope(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, envelope)
}

// BadRequest writes a validation envelope for malformed request bodies.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, apperrors.Envelope{
		Error:   true,
		Code:    apperrors.CodeValidation,
		Message: message,
	})
}
