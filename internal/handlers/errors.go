package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/service"
)

const (
	errInternal        = "internal error"
	errInvalidBodyPref = "invalid body: "
)

// statusFor maps domain errors to HTTP status codes; unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrCueNotFound),
		errors.Is(err, service.ErrNodeNotFound),
		errors.Is(err, service.ErrPairingPending):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCueNotPending),
		errors.Is(err, service.ErrDuplicateCueNumber),
		errors.Is(err, service.ErrPairingCompleted),
		errors.Is(err, service.ErrNodeOffline),
		errors.Is(err, service.ErrOperatorExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrCueNumberLocked),
		errors.Is(err, service.ErrNodeForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCue),
		errors.Is(err, service.ErrInvalidCommand),
		errors.Is(err, service.ErrInvalidPairing),
		errors.Is(err, service.ErrInvalidOperator),
		errors.Is(err, osc.ErrNotWhitelisted),
		errors.Is(err, osc.ErrUnknownMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg}. Server errors are logged and their
// text is not exposed.
func (h *Handler) respondError(c *gin.Context, logKey string, err error, kv ...interface{}) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		if h.log != nil {
			fields := append([]interface{}{"err", err}, kv...)
			h.log.Errorw(logKey, fields...)
		}
		c.JSON(code, gin.H{"error": errInternal})
		return
	}
	if h.log != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Infow(logKey, fields...)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// bindJSONOrBadRequest tries to bind the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled (aborted), true otherwise.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if h.log != nil {
			h.log.Infow("bad_request_body", "path", c.FullPath(), "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return false
	}
	return true
}
