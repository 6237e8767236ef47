// Package services contains the pipeline definition lifecycle manager, the
// card state machine, the form attachment engine, and the outbox emitter.
package services

import (
	"errors"
	"fmt"
)

// Stable machine-readable conflict codes surfaced to clients.
const (
	CodeTransitionNotAllowed = "TRANSITION_NOT_ALLOWED"
	CodeWIPLimitReached      = "WIP_LIMIT_REACHED"
	CodeFormsIncomplete      = "FORMS_INCOMPLETE"
	CodeSessionIDExists      = "SESSION_ID_EXISTS"
	CodeCommentRequired      = "COMMENT_REQUIRED"
	CodeKeyExists            = "KEY_EXISTS"
	CodeAlreadyPublished     = "ALREADY_PUBLISHED"
)

// NotFoundError means the referenced entity does not exist or lies outside
// the caller's tenant/org scope.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// BadRequestError means a caller-correctable structural precondition was
// violated.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return e.Reason
}

// ConflictError is a gating failure with a stable code and structured
// details sufficient for a client to self-diagnose.
type ConflictError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func notFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func badRequest(format string, args ...any) error {
	return &BadRequestError{Reason: fmt.Sprintf(format, args...)}
}

func conflict(code, message string, details map[string]any) error {
	return &ConflictError{Code: code, Message: message, Details: details}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsBadRequest reports whether err is a BadRequestError.
func IsBadRequest(err error) bool {
	var e *BadRequestError
	return errors.As(err, &e)
}

// AsConflict returns the ConflictError in err's chain, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var e *ConflictError
	ok := errors.As(err, &e)
	return e, ok
}
