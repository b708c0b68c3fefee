package api

import (
	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type apiError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// writeError is the single place domain errors become HTTP responses.
func writeError(c *gin.Context, err error) {
	typed := errs.As(err)
	if typed == nil {
		typed = errs.Wrap(errs.CodeInternal, err, "unexpected error")
	}
	meta := errs.MetadataFor(typed.Code())

	msg := typed.Message()
	var details map[string]any
	if typed.Code() == errs.CodeInternal {
		msg = "internal error"
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	} else {
		details = typed.Details()
	}

	c.AbortWithStatusJSON(meta.HTTPStatus, errorEnvelope{Error: apiError{
		Code:      string(typed.Code()),
		Message:   msg,
		Details:   details,
		Retryable: meta.Retryable,
	}})
}
