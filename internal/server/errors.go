package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/domain"
	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	proofdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/proof/domain"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
	settlementdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/domain"
	"gorm.io/gorm"
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
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

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
		c.AbortWithStatusJSON(status, errorResponse{Success: false, Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
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

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, settlementdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "invalid signature",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, settlementdomain.ErrMissingPaymentSetup):
		return http.StatusPreconditionFailed, errorPayload{
			Type:    "missing_payment_setup",
			Message: "member has no payment setup",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, invoicedomain.ErrInvalidPeriod),
		errors.Is(err, coupondomain.ErrInvalidDiscount),
		errors.Is(err, settlementdomain.ErrInvalidPayload):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, memberdomain.ErrNotFound),
		errors.Is(err, sessiondomain.ErrSeatNotFound),
		errors.Is(err, sessiondomain.ErrSessionNotFound),
		errors.Is(err, proofdomain.ErrNotFound),
		errors.Is(err, coupondomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, sessiondomain.ErrSeatUnavailable),
		errors.Is(err, sessiondomain.ErrActiveSessionExists),
		errors.Is(err, sessiondomain.ErrSessionAlreadyEnded),
		errors.Is(err, proofdomain.ErrAlreadyAnchored),
		errors.Is(err, settlementdomain.ErrNotSettleable):
		return true
	default:
		return false
	}
}
