package httpapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/joelkehle/adoption-trajectory/internal/analysis"
	"github.com/joelkehle/adoption-trajectory/internal/store"
)

const (
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeTimeout      = "timeout"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// Error is the body of every failed response.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeTimeout:
		return 504
	case CodeUnavailable:
		return 503
	default:
		return 500
	}
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: statusForCode(code)}
}

func validationJSONError(err error) *Error {
	return newError(CodeValidation, "invalid json: "+err.Error())
}

// toError maps service and store errors onto API errors.
func toError(err error) *Error {
	var ae *Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, store.ErrNotFound):
		return newError(CodeNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		return newError(CodeConflict, err.Error())
	case errors.Is(err, analysis.ErrInvalidInput):
		return newError(CodeValidation, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newError(CodeTimeout, err.Error())
	}
	return newError(CodeInternal, err.Error())
}
