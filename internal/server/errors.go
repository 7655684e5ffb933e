package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Reason  string            `json:"reason,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// RejectedError carries a rejected reconciliation result to the error middleware.
type RejectedError struct {
	Reason paymentdomain.Reason
}

func (e *RejectedError) Error() string {
	return string(e.Reason)
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// reasonStatus maps rejection reasons to HTTP status codes. The gateway retries
// anything that is not 2xx, so only transient reasons use 5xx.
var reasonStatus = map[paymentdomain.Reason]int{
	paymentdomain.ReasonInvalidSignature:        http.StatusUnauthorized,
	paymentdomain.ReasonAccountMismatch:         http.StatusForbidden,
	paymentdomain.ReasonUnsupportedNotification: http.StatusUnprocessableEntity,
	paymentdomain.ReasonMalformedPayload:        http.StatusBadRequest,
	paymentdomain.ReasonUnknownSubscriber:       http.StatusNotFound,
	paymentdomain.ReasonUnknownTransaction:      http.StatusNotFound,
	paymentdomain.ReasonRefundOverflow:          http.StatusConflict,
	paymentdomain.ReasonRefundReversal:          http.StatusConflict,
	paymentdomain.ReasonInvalidTransition:       http.StatusConflict,
	paymentdomain.ReasonSubscriberConflict:      http.StatusConflict,
	paymentdomain.ReasonStoreUnavailable:        http.StatusServiceUnavailable,
	paymentdomain.ReasonGatewayUnavailable:      http.StatusBadGateway,
}

var reasonMessages = map[paymentdomain.Reason]string{
	paymentdomain.ReasonInvalidSignature:        "the payment notification could not be verified",
	paymentdomain.ReasonAccountMismatch:         "the payment was made to a different merchant account",
	paymentdomain.ReasonUnsupportedNotification: "this notification type is not supported",
	paymentdomain.ReasonMalformedPayload:        "the payment notification is incomplete",
	paymentdomain.ReasonUnknownSubscriber:       "no subscription matches this notification",
	paymentdomain.ReasonUnknownTransaction:      "no payment matches this notification",
	paymentdomain.ReasonRefundOverflow:          "the refunded amount exceeds the payment total",
	paymentdomain.ReasonRefundReversal:          "the refunded amount is lower than already recorded",
	paymentdomain.ReasonInvalidTransition:       "the payment cannot change to the requested status",
	paymentdomain.ReasonSubscriberConflict:      "the subscription is linked to another payment",
	paymentdomain.ReasonStoreUnavailable:        "the payment could not be recorded right now, please try again",
	paymentdomain.ReasonGatewayUnavailable:      "the payment gateway is unavailable, please try again",
}

func rejectionStatus(reason paymentdomain.Reason) int {
	if status, ok := reasonStatus[reason]; ok {
		return status
	}
	return http.StatusUnprocessableEntity
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		message, ok := reasonMessages[rejected.Reason]
		if !ok {
			message = string(rejected.Reason)
		}
		return rejectionStatus(rejected.Reason), errorPayload{
			Type:    "rejected",
			Message: message,
			Reason:  string(rejected.Reason),
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "request", Code: err.Error(), Message: "invalid value"},
			},
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrTransactionMissing):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return "rejected", string(rejected.Reason)
	}
	_, payload := mapError(err)
	return payload.Type, payload.Type
}
