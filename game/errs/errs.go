// Package errs defines the error kinds shared by the game services.
// Callers wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
package errs

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrNotFound: the referenced instance, template, resource or row is gone.
	ErrNotFound = errors.New("not found")
	// ErrConflict: an action is already active or stock is exhausted.
	ErrConflict = errors.New("conflict")
	// ErrInvalid: the request can never succeed as stated.
	ErrInvalid = errors.New("invalid")
)

// HTTPStatus maps an error to a response code. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsDomain reports whether err is one of the kinds above, meaning it should
// be shown to the player instead of logged as a failure.
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalid)
}

// Message is the player-facing text of err: the detail after the kind
// prefix, or the kind itself when no detail was given.
func Message(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrInvalid} {
		prefix := kind.Error() + ": "
		if i := strings.Index(s, prefix); i >= 0 {
			return s[i+len(prefix):]
		}
	}
	return s
}
