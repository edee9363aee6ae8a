// Package services defines the business logic of the bounty bot: the
// lifecycle state machine, card projection, derived records, the activity
// router and the repeat reconciler. This file centralizes the service-level
// error values so they can be returned consistently and checked by callers.
//
// Translation into user-facing chat replies happens in UserMessage; HTTP
// status mapping happens in the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrBountyNotFound indicates the referenced bounty does not exist.
	ErrBountyNotFound = errors.New("bounty not found")

	// ErrConflict is returned when a conditional write kept losing against
	// concurrent writers after all retries.
	ErrConflict = errors.New("bounty was modified concurrently, please try again")

	// ErrCancelled is returned when the user dismissed an interactive prompt.
	ErrCancelled = errors.New("interaction cancelled")

	// ErrReconcileInProgress is returned by Reconcile while a previous pass
	// is still running.
	ErrReconcileInProgress = errors.New("reconcile already in progress")

	// ErrUnknownActivity is returned for requests naming no known activity.
	ErrUnknownActivity = errors.New("unknown activity")
)

// ValidationError is a guard or input-format violation. It is always
// user-correctable and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError means the actor may not perform the activity.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

func unauthorizedf(format string, args ...any) error {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// TimeoutError means an interactive step was not completed in time. Modal is
// set when the step was a modal form.
type TimeoutError struct {
	Modal bool
}

func (e *TimeoutError) Error() string {
	if e.Modal {
		return "modal timed out"
	}
	return "interaction timed out"
}

// NotificationPermissionError reports a best-effort notification that could
// not be delivered. The transition that triggered it has already committed.
type NotificationPermissionError struct {
	UserID string
	Err    error
}

func (e *NotificationPermissionError) Error() string {
	return fmt.Sprintf("cannot notify user %s: %v", e.UserID, e.Err)
}

func (e *NotificationPermissionError) Unwrap() error { return e.Err }

// DMPermissionError is the direct-message flavour of NotificationPermissionError.
type DMPermissionError = NotificationPermissionError

// ConflictingMessageError means an unrelated message arrived while waiting
// for an interactive reply. Callers discard it and ask again.
type ConflictingMessageError struct {
	Err error
}

func (e *ConflictingMessageError) Error() string { return "conflicting message received" }

func (e *ConflictingMessageError) Unwrap() error { return e.Err }

// RuntimeError wraps an unexpected failure. Its Error text carries detail
// for logs; users only ever see a generic apology.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *RuntimeError) Unwrap() error { return e.Err }

func runtimeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{Op: op, Err: err}
}

// UserMessage renders err the way it is shown to a chat user.
func UserMessage(err error) string {
	var (
		ve *ValidationError
		ae *AuthorizationError
		te *TimeoutError
		ce *ConflictingMessageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ae):
		return ae.Message
	case errors.As(err, &te):
		return "You took too long to respond. Please try again."
	case errors.Is(err, ErrCancelled):
		return "Cancelled. Nothing was changed."
	case errors.As(err, &ce):
		return "Another message arrived while waiting for your answer. Please try again."
	case errors.Is(err, ErrBountyNotFound):
		return "Sorry, that bounty could not be found."
	case errors.Is(err, ErrUnknownActivity):
		return "Sorry, I don't know that activity."
	case errors.Is(err, ErrConflict):
		return ErrConflict.Error()
	default:
		return "Sorry, something went wrong. Please try again later."
	}
}

// IsUserError reports whether err is user-correctable (logged at info at most).
func IsUserError(err error) bool {
	var (
		ve *ValidationError
		ae *AuthorizationError
	)
	return errors.As(err, &ve) || errors.As(err, &ae) ||
		errors.Is(err, ErrBountyNotFound) || errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrUnknownActivity)
}
