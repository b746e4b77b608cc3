// Package apperr defines the error taxonomy shared by the stores and the
// HTTP layer. Stores return *Error values; httputil.WriteAppError turns them
// into responses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPersistence
	KindUnauthorized
	KindForbidden
)

var kindNames = map[Kind]string{
	KindInternal:     "internal",
	KindValidation:   "validation",
	KindNotFound:     "not_found",
	KindConflict:     "conflict",
	KindPersistence:  "persistence",
	KindUnauthorized: "unauthorized",
	KindForbidden:    "forbidden",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Machine-readable codes carried in Error.Code
const (
	CodeValidationFailed     = "validation_failed"
	CodeNotFound             = "not_found"
	CodeDuplicateID          = "duplicate_id"
	CodeDuplicateAssociation = "duplicate_association"
	CodeNotAssociated        = "not_associated"
	CodeCycleDetected        = "cycle_detected"
	CodeCommandNotApplicable = "command_not_applicable"
	CodePersistenceFailed    = "persistence_failed"
)

// Sentinels for errors.Is matching. An *Error matches a sentinel when their
// codes are equal.
var (
	ErrNotFound             = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "not found"}
	ErrDuplicateID          = &Error{Kind: KindConflict, Code: CodeDuplicateID, Message: "duplicate id"}
	ErrDuplicateAssociation = &Error{Kind: KindConflict, Code: CodeDuplicateAssociation, Message: "duplicate association"}
	ErrNotAssociated        = &Error{Kind: KindValidation, Code: CodeNotAssociated, Message: "not associated"}
	ErrCycleDetected        = &Error{Kind: KindValidation, Code: CodeCycleDetected, Message: "cycle detected"}
	ErrPersistenceFailed    = &Error{Kind: KindPersistence, Code: CodePersistenceFailed, Message: "persistence failed"}
)

// FieldError is a single field-level validation message
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed application error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// NotFound reports a missing entity
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", entity, id),
	}
}

// DuplicateID reports an insert whose id already exists
func DuplicateID(entity, id string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeDuplicateID,
		Message: fmt.Sprintf("%s already exists: %s", entity, id),
	}
}

// Validation reports a rule violation with an optional set of field messages
func Validation(message string, fields ...FieldError) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidationFailed,
		Message: message,
		Fields:  fields,
	}
}

// WithCode returns a validation or conflict error with a specific code
func WithCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Persistence reports a write that did not take effect
func Persistence(op string, err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Code:    CodePersistenceFailed,
		Message: fmt.Sprintf("failed to %s", op),
		Err:     err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As extracts the first *Error in err's chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
