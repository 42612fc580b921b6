package effects

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrNotFound reports that the target entity does not exist. State is left
// unchanged and no toast is emitted.
var ErrNotFound = errors.New("not found")

// RejectedError is a precondition violation. Message is shown to the user.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// Rejectf builds a RejectedError.
func Rejectf(format string, args ...any) *RejectedError {
	return &RejectedError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError is malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsRejected reports whether err is a precondition violation.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// HTTPError maps store errors to echo errors: not found 404, rejected 409,
// invalid 400, anything else 500.
func HTTPError(err error) error {
	var (
		re *RejectedError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &re):
		return echo.NewHTTPError(http.StatusConflict, re.Message)
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
