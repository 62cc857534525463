package loadtest

import (
	"errors"
	"fmt"
)

var (
	// ErrVUStopped is returned when an iteration is requested on a stopping or stopped VU.
	ErrVUStopped = errors.New("virtual user is stopping or stopped")

	// ErrNoUserTypes is returned when a scheduler is built without user types.
	ErrNoUserTypes = errors.New("no user types defined")

	// ErrInvalidUserType is returned when a user type fails validation.
	ErrInvalidUserType = errors.New("invalid user type")

	// ErrTaskPanic wraps a panic recovered from a task.
	ErrTaskPanic = errors.New("task panicked")
)

// HTTPError is returned by Client when the server answers with status >= 400.
type HTTPError struct {
	Name       string
	Method     string
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %s %s: HTTP %d", e.Name, e.Method, e.URL, e.StatusCode)
}
