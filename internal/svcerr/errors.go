package svcerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindBadRequest        Kind = "bad_request"
	KindNotFound          Kind = "not_found"
	KindLockTimeout       Kind = "lock_timeout"
	KindContractViolation Kind = "contract_violation"
)

// CodeInvalidJSONSchema is the stable code for rejected schema documents.
const CodeInvalidJSONSchema = "invalid_json_schema"

type kindMeta struct {
	HTTPStatus int
	Retryable  bool
}

var registry = map[Kind]kindMeta{
	KindValidation:        {HTTPStatus: http.StatusBadRequest},
	KindBadRequest:        {HTTPStatus: http.StatusBadRequest},
	KindNotFound:          {HTTPStatus: http.StatusNotFound},
	KindLockTimeout:       {HTTPStatus: http.StatusServiceUnavailable, Retryable: true},
	KindContractViolation: {HTTPStatus: http.StatusInternalServerError},
}

// Issue is a single complaint about a rejected document.
type Issue struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// Error is the error type returned by the service layer.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Issues  []Issue
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the response status for the error kind.
func (e *Error) HTTPStatus() int {
	if m, ok := registry[e.Kind]; ok {
		return m.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry with backoff.
func (e *Error) Retryable() bool {
	return registry[e.Kind].Retryable
}

// Fatal reports whether the error is a programming error rather than a user error.
func (e *Error) Fatal() bool {
	return e.Kind == KindContractViolation
}

func InvalidJSONSchema(message string, issues []Issue) *Error {
	if message == "" {
		message = "Invalid JSON schema"
	}
	return &Error{Kind: KindValidation, Code: CodeInvalidJSONSchema, Message: message, Issues: issues}
}

func BadRequest(reason, message string) *Error {
	if reason == "" {
		reason = "bad_request"
	}
	return &Error{Kind: KindBadRequest, Code: reason, Message: message}
}

// NotFound builds a not-found error for an entity type and the id the caller asked for.
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "not_found",
		Message: fmt.Sprintf("%s not found: %s", strings.ReplaceAll(entity, "_", " "), id),
	}
}

func LockTimeout(name string, err error) *Error {
	return &Error{
		Kind:    KindLockTimeout,
		Code:    "lock_timeout",
		Message: fmt.Sprintf("timed out waiting for lock %s", name),
		Err:     err,
	}
}

// ContractViolation marks a state that valid input can never produce.
func ContractViolation(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindContractViolation,
		Code:    "contract_violation",
		Message: fmt.Sprintf(format, args...),
	}
}

// As extracts the service error from err, if any.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsKind reports whether err carries a service error of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := As(err)
	return ok && se.Kind == kind
}
