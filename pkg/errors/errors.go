// Package errors defines the typed error kinds surfaced by the distribution engine.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Every kind maps to one stable message.
type Kind string

const (
	InvalidArgument       Kind = "invalid_argument"
	NotEligible           Kind = "not_eligible"
	NotFound              Kind = "not_found"
	NoActivePool          Kind = "no_active_pool"
	AlreadyFunded         Kind = "already_funded"
	WindowClosed          Kind = "window_closed"
	WindowNotYetClosed    Kind = "window_not_yet_closed"
	AlreadyClaimed        Kind = "already_claimed"
	InsufficientPoolFunds Kind = "insufficient_pool_funds"
	PersistenceFailure    Kind = "persistence_failure"
)

var messages = map[Kind]string{
	InvalidArgument:       "invalid argument",
	NotEligible:           "participant verification tier is below the distribution threshold",
	NotFound:              "participant not found",
	NoActivePool:          "no active pool for this cycle and region",
	AlreadyFunded:         "a pool already exists for this cycle and region",
	WindowClosed:          "claim window is not open",
	WindowNotYetClosed:    "claim window has not ended yet",
	AlreadyClaimed:        "participant has already claimed for this cycle",
	InsufficientPoolFunds: "pool has insufficient funds for this claim",
	PersistenceFailure:    "persistence failure",
}

// Message returns the stable, user-visible message for the kind.
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[PersistenceFailure]
}

// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Message()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel values by kind so errors.Is(err, ErrAlreadyClaimed)
// holds for any AlreadyClaimed error regardless of Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels, one per kind.
var (
	ErrInvalidArgument       = &Error{Kind: InvalidArgument}
	ErrNotEligible           = &Error{Kind: NotEligible}
	ErrNotFound              = &Error{Kind: NotFound}
	ErrNoActivePool          = &Error{Kind: NoActivePool}
	ErrAlreadyFunded         = &Error{Kind: AlreadyFunded}
	ErrWindowClosed          = &Error{Kind: WindowClosed}
	ErrWindowNotYetClosed    = &Error{Kind: WindowNotYetClosed}
	ErrAlreadyClaimed        = &Error{Kind: AlreadyClaimed}
	ErrInsufficientPoolFunds = &Error{Kind: InsufficientPoolFunds}
	ErrPersistenceFailure    = &Error{Kind: PersistenceFailure}
)

// E builds an Error of the given kind.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds an Error whose cause is a formatted message.
func Ef(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err. Untyped errors are treated as persistence
// failures since only collaborators produce them.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return PersistenceFailure
}

// Persistence wraps a collaborator error as PersistenceFailure unless it is
// already typed.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: PersistenceFailure, Op: op, Err: err}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
