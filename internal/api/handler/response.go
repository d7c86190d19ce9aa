package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/complaint"
	"anonchat/backend/internal/matchmaking"
	"anonchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Response is the envelope of every JSON answer.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{Success: false, Error: err, Code: code}
}

// respondError maps domain errors to a status and an error code.
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"

	var pending *storage.IndexPendingError
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &pending):
		status, code = http.StatusServiceUnavailable, "INDEX_PENDING"
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(pending.RetryAfter)))
	case errors.Is(err, storage.ErrPermissionDenied):
		status, code = http.StatusBadGateway, "STORE_PERMISSION_DENIED"
	case errors.Is(err, matchmaking.ErrBanned):
		status, code = http.StatusForbidden, "BANNED"
	case errors.Is(err, chat.ErrSessionEnded):
		status, code = http.StatusConflict, "CHAT_ENDED"
	case errors.Is(err, chat.ErrLastAdmin):
		status, code = http.StatusConflict, "LAST_ADMIN"
	case errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrGroupNotFound),
		errors.Is(err, chat.ErrReportNotFound),
		errors.Is(err, storage.ErrUserNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, chat.ErrNotMember),
		errors.Is(err, chat.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, matchmaking.ErrInvalidPreferences),
		errors.Is(err, chat.ErrInvalidMessage),
		errors.Is(err, chat.ErrInvalidRole),
		errors.Is(err, chat.ErrSelfMatch),
		errors.Is(err, complaint.ErrUnknownSeverity),
		errors.As(err, &invalid):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	}

	if status >= http.StatusInternalServerError {
		h.log.Ctx(c.Request.Context()).Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, NewErrorResponse(err.Error(), code))
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse(err.Error(), "INVALID_REQUEST"))
}
