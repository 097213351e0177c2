package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error kinds surfaced by the connector layer. Components recover transient
// errors themselves; jobs only see terminal ones.
var (
	// ErrNotFound means the requested remote entity is absent. Treated as
	// data, not failure, and logged at debug level.
	ErrNotFound = errors.New("remote entity not found")
	// ErrAuth means credentials were rejected. Disables the connector and
	// is never retried.
	ErrAuth = errors.New("authentication rejected")
	// ErrTransient covers network failures and 5xx responses; retried with
	// backoff.
	ErrTransient = errors.New("transient upstream error")
	// ErrConflict means the local and remote IDs disagree.
	ErrConflict = errors.New("local/remote id conflict")
	// ErrNotImplemented marks an operation a connector kind does not
	// support (e.g. season posters on some servers).
	ErrNotImplemented = errors.New("not implemented by this connection")
	// ErrInactive is returned when an operation is attempted on a
	// connector whose activation probe failed.
	ErrInactive = errors.New("connection is inactive")
)

// ActivationError wraps the probe failure that left a connector inactive.
type ActivationError struct {
	Kind string
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("%s activation failed: %v", e.Kind, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to an error kind. 2xx maps to
// nil and 404 to ErrNotFound (data, not an error).
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, code)
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

// Retryable reports whether an error should be retried: transient errors
// and raw network failures, never auth errors or cancellation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
