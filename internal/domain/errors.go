package domain

import (
	"errors"
	"fmt"
)

// Lookup and transition errors.
var (
	ErrTaskNotFound      = errors.New("call task not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Collaborator errors.
var (
	ErrConflict   = errors.New("task version conflict")
	ErrDialFailed = errors.New("dial failed")
)

// FailureKind is the category every collaborator failure is mapped into
// before it leaves the orchestrator.
type FailureKind string

const (
	KindTransient         FailureKind = "transient"
	KindTerminal          FailureKind = "terminal"
	KindStorePersistence  FailureKind = "store_persistence"
	KindTimezoneAmbiguity FailureKind = "timezone_ambiguity"
)

// Error is a classified failure.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Failure wraps err with a kind and operation name.
func Failure(kind FailureKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a classified error, or "" when err carries none.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
