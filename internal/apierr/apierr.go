package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/studytrack/backend/internal/models"
)

const (
	CodeInsufficientPool   = "insufficient_pool"
	CodeEmptySelection     = "empty_selection"
	CodeInvalidScope       = "invalid_scope"
	CodeAlreadyCompleted   = "already_completed"
	CodePersistenceFailure = "persistence_failure"
	CodeInvalidRequest     = "invalid_request"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
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
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t.Code == e.Code
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

var (
	ErrInsufficientPool = New(http.StatusUnprocessableEntity, CodeInsufficientPool, errors.New("not enough questions in pool"))
	ErrEmptySelection   = New(http.StatusBadRequest, CodeEmptySelection, errors.New("no questions selected"))
	ErrInvalidScope     = New(http.StatusBadRequest, CodeInvalidScope, errors.New("scope does not belong to subject"))
	ErrAlreadyCompleted = New(http.StatusConflict, CodeAlreadyCompleted, errors.New("exam already completed"))
	ErrPersistence      = New(http.StatusInternalServerError, CodePersistenceFailure, errors.New("persistence failure"))
	ErrInvalidRequest   = New(http.StatusBadRequest, CodeInvalidRequest, errors.New("invalid request"))
	ErrNotFound         = New(http.StatusNotFound, CodeNotFound, errors.New("not found"))
	ErrConflict         = New(http.StatusConflict, CodeConflict, errors.New("concurrent modification"))
)

func InvalidScope(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeInvalidScope, fmt.Errorf(format, args...))
}

func InvalidRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(http.StatusConflict, CodeConflict, fmt.Errorf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

// Persistence wraps a collaborator failure. Already typed errors pass through.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}
	var poolErr *InsufficientPoolError
	if errors.As(err, &poolErr) {
		return err
	}
	return New(http.StatusInternalServerError, CodePersistenceFailure, err)
}

// InsufficientPoolError reports a stratum that cannot satisfy its request.
type InsufficientPoolError struct {
	Kind       models.Kind       `json:"kind"`
	Difficulty models.Difficulty `json:"difficulty,omitempty"`
	Requested  int               `json:"requested"`
	Available  int               `json:"available"`
}

func (e *InsufficientPoolError) Error() string {
	stratum := string(e.Kind)
	if e.Difficulty != "" {
		stratum += "/" + string(e.Difficulty)
	}
	return fmt.Sprintf("insufficient pool for %s: requested %d, available %d", stratum, e.Requested, e.Available)
}

func (e *InsufficientPoolError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeInsufficientPool
}

// StatusOf maps an error to its HTTP status and code.
func StatusOf(err error) (int, string) {
	var poolErr *InsufficientPoolError
	if errors.As(err, &poolErr) {
		return http.StatusUnprocessableEntity, CodeInsufficientPool
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, apiErr.Code
	}
	return http.StatusInternalServerError, ""
}

// Details returns structured error details, if any.
func Details(err error) any {
	var poolErr *InsufficientPoolError
	if errors.As(err, &poolErr) {
		return poolErr
	}
	return nil
}
