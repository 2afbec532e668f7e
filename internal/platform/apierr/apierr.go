package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// From maps a lifecycle error onto an HTTP status and error code.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, errs.ErrInvalidArgument):
		return New(http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, errs.ErrReadinessNotMet):
		return New(http.StatusConflict, "readiness_not_met", err)
	case errors.Is(err, errs.ErrConcurrentModification):
		return New(http.StatusConflict, "concurrent_modification", err)
	default:
		return New(http.StatusInternalServerError, "internal", err)
	}
}
