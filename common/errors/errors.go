package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Detail returns an error with a caller-facing message that still matches
// kind under errors.Is.
func Detail(kind *Error, message string) *Error {
	return &Error{Code: kind.Code, Message: message, Err: kind}
}

// Wrap attaches a cause to kind. The message stays kind's message so internal
// details are not rendered to clients.
func Wrap(kind *Error, cause error) *Error {
	return &Error{Code: kind.Code, Message: kind.Message, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// Common error types
var (
	ErrBadRequest         = New(http.StatusBadRequest, "Bad request", nil)
	ErrUnauthorized       = New(http.StatusUnauthorized, "Unauthorized", nil)
	ErrForbidden          = New(http.StatusForbidden, "Forbidden", nil)
	ErrNotFound           = New(http.StatusNotFound, "Not found", nil)
	ErrInternalServer     = New(http.StatusInternalServerError, "Internal server error", nil)
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "Service unavailable", nil)
)

// Purchase and credential error types
var (
	ErrValidation                 = New(http.StatusBadRequest, "Validation error", nil)
	ErrUnknownCourse              = New(http.StatusBadRequest, "Invalid course selected", nil)
	ErrPaymentProviderUnavailable = New(http.StatusServiceUnavailable, "Payment provider not configured", nil)
	ErrSignatureInvalid           = New(http.StatusBadRequest, "Invalid webhook signature", nil)
	ErrDuplicateKey               = New(http.StatusConflict, "Duplicate key", nil)
)

// StatusCode returns the HTTP status for err, defaulting to 500.
func StatusCode(err error) int {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// ErrorMiddleware renders the last error pushed with c.Error as
// {"error": message}. Errors that are not *Error become a generic 500.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		var appErr *Error
		if !stderrors.As(err, &appErr) {
			appErr = ErrInternalServer
		}
		c.AbortWithStatusJSON(appErr.Code, gin.H{"error": appErr.Message})
	}
}
