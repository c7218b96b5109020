package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// ErrTransient covers dropped subscriptions and network blips.
	// It is absorbed by the subscription manager and never reaches callers.
	ErrTransient          = fmt.Errorf("transient connectivity error")
	ErrSubscriptionClosed = fmt.Errorf("subscription closed by remote")
	ErrConnectTimeout     = fmt.Errorf("subscription connect timeout")

	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrNotFound         = fmt.Errorf("not found")

	ErrValidation      = fmt.Errorf("validation failed")
	ErrEmptyContent    = fmt.Errorf("%w: message content is empty", ErrValidation)
	ErrContentTooLong  = fmt.Errorf("%w: message content is too long", ErrValidation)
	ErrMissingIdentity = fmt.Errorf("%w: no current identity", ErrValidation)
	ErrMissingChannel  = fmt.Errorf("%w: no target channel", ErrValidation)

	ErrMalformedChange = fmt.Errorf("malformed change event")
)

// IsTerminal reports whether err ends the life of a subscription target.
// Terminal errors are surfaced once and never retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNotFound)
}

func Is(err, target error) bool { return errors.Is(err, target) }
