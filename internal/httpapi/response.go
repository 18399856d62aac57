package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"saytruth/internal/domain"
)

const (
	RequestIDKey = "request_id"
	ResponseKey  = "response_key"
)

// Response is the envelope of every API response.
type Response struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

// Meta carries the outcome of a request.
type Meta struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id"`
}

// NewResponse prepares the envelope and request id for a request.
func NewResponse() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Set(ResponseKey, &Response{Meta: Meta{RequestID: id}})
		c.Header("X-Request-Id", id)
	}
}

func envelope(c *gin.Context) *Response {
	if v, ok := c.Get(ResponseKey); ok {
		if res, ok := v.(*Response); ok {
			return res
		}
	}
	return &Response{}
}

// APISuccess writes data with status.
func APISuccess(c *gin.Context, status int, data interface{}) {
	c.Abort()
	res := envelope(c)
	res.Meta.Code = status
	res.Meta.Message = "ok"
	res.Data = data
	c.JSON(status, res)
}

// APIError maps err onto a status code and writes it. Unexpected errors
// are reported without detail and attached to the context for logging.
func APIError(c *gin.Context, err error) {
	c.Abort()
	res := envelope(c)
	status, reason := statusFor(err)
	res.Meta.Code = status
	res.Meta.Reason = reason
	if status == http.StatusInternalServerError {
		res.Meta.Message = "internal error"
		_ = c.Error(err)
	} else {
		res.Meta.Message = err.Error()
	}
	c.JSON(status, res)
}

// errUnauthorized is returned when a route needs an identity.
var errUnauthorized = errors.New("authentication required")

// errBadRequest wraps malformed request bodies and queries.
type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return "invalid request: " + e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

func statusFor(err error) (int, string) {
	if ve, ok := domain.IsValidation(err); ok {
		return http.StatusBadRequest, string(ve.Reason)
	}
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, ""
	}
}
