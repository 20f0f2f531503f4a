package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/pkg/errcode"
	appErr "github.com/xxxsen/certquery/internal/pkg/errors"
	"github.com/xxxsen/certquery/internal/pkg/response"
)

const rateLimitMessage = "the answer provider is rate limiting requests, retry in a moment"

func statusOf(err error) (int, int, string) {
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		return http.StatusBadRequest, errcode.ErrInvalid, "invalid request"
	case errors.Is(err, appErr.ErrNotFound):
		return http.StatusNotFound, errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrRateLimited):
		return http.StatusTooManyRequests, errcode.ErrTooMany, rateLimitMessage
	case errors.Is(err, appErr.ErrAIUnavailable):
		return http.StatusInternalServerError, errcode.ErrAIUnavailable, "answer capability unavailable"
	default:
		return http.StatusInternalServerError, errcode.ErrInternal, "internal error"
	}
}

func logRequestError(c *gin.Context, err error) {
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logRequestError(c, err)
	status, code, message := statusOf(err)
	response.Error(c, status, code, message)
}

// handleErrorWithBody writes the failure status but keeps the domain
// payload in the envelope, so callers still see the error field and the
// diagnostic flags populated by the service.
func handleErrorWithBody(c *gin.Context, err error, body interface{}) {
	if err == nil {
		return
	}
	logRequestError(c, err)
	status, code, message := statusOf(err)
	response.ErrorWithData(c, status, code, message, body)
}
