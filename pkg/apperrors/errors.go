package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Code classifies a caller-facing failure.
type Code string

const (
	InvalidWindow     Code = "INVALID_WINDOW"
	InvalidInput      Code = "INVALID_INPUT"
	SlotUnavailable   Code = "SLOT_UNAVAILABLE"
	InvalidTransition Code = "INVALID_TRANSITION"
	DoctorConflict    Code = "DOCTOR_CONFLICT"
	AlreadyServing    Code = "ALREADY_SERVING"
	QueueEmpty        Code = "QUEUE_EMPTY"
	QueueNotStarted   Code = "QUEUE_NOT_STARTED"
	SlotsLocked       Code = "SLOTS_LOCKED"
	NotFound          Code = "NOT_FOUND"
	Forbidden         Code = "FORBIDDEN"
)

// AppError is a deterministic domain error. None of these are retried.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Canned errors carrying the wording shown to end users.

func NewSlotUnavailable() *AppError {
	return New(SlotUnavailable, "this slot was just taken, please pick another")
}

func NewQueueNotStarted() *AppError {
	return New(QueueNotStarted, "start the queue first")
}

func NewAlreadyServing() *AppError {
	return New(AlreadyServing, "must complete current patient first")
}

func NewQueueEmpty() *AppError {
	return New(QueueEmpty, "no patients waiting")
}

func NewNotFound(what string) *AppError {
	return Newf(NotFound, "%s not found", what)
}

func NewInvalidTransition(entity string, from, to any) *AppError {
	return Newf(InvalidTransition, "%s cannot move from %v to %v", entity, from, to)
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// MessageOf returns the user-facing message of the first AppError in err's
// chain, or err's text.
func MessageOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code to the HTTP status the API returns for it.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidWindow, InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case SlotUnavailable, InvalidTransition, DoctorConflict,
		AlreadyServing, QueueEmpty, QueueNotStarted, SlotsLocked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTP converts err into an echo error. Unclassified errors become a bare 500
// so storage details never reach clients.
func HTTP(err error) *echo.HTTPError {
	var ae *AppError
	if errors.As(err, &ae) {
		he := echo.NewHTTPError(HTTPStatus(ae.Code), map[string]string{
			"code":    string(ae.Code),
			"message": ae.Message,
		})
		return he.SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
