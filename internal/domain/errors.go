package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a quiz session or member does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a quiz session or member already exists.
	ErrDuplicate = errors.New("already exists")
	// ErrInvalidState indicates the operation is not allowed in the current lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnsupportedType indicates a question type the evaluator does not know.
	// It points at a schema mismatch and is never recovered.
	ErrUnsupportedType = errors.New("unsupported question type")
	// ErrTransport wraps storage and message bus failures.
	ErrTransport = errors.New("transport failure")
	// ErrProbe wraps idle-check probe failures.
	ErrProbe = errors.New("probe failure")
)

// Error carries the failure kind together with the offending identifier.
type Error struct {
	Kind   error
	Entity string
	ID     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Entity, e.ID, msg)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

func Duplicate(entity, id string) error {
	return &Error{Kind: ErrDuplicate, Entity: entity, ID: id}
}

func InvalidState(entity, id, reason string) error {
	return &Error{Kind: ErrInvalidState, Entity: entity, ID: id, Reason: reason}
}

func UnsupportedType(t QuestionType) error {
	return &Error{Kind: ErrUnsupportedType, Entity: "question type", ID: string(t)}
}

// Transport wraps err unless it already carries a kind from this package.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: ErrTransport, Reason: op, Err: err}
}

func Probe(topic string, err error) error {
	return &Error{Kind: ErrProbe, Entity: "topic", ID: topic, Err: err}
}
