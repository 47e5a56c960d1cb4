package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents where an error sits in the engine lifecycle and
// therefore how far its effects propagate.
type ErrorClass string

const (
	// ErrorClassModel indicates a model-load failure.
	// The model is rejected before any session can start.
	ErrorClassModel ErrorClass = "model"

	// ErrorClassEdit indicates a rejected mutation of an instance graph.
	// Only the offending edit is discarded; the session keeps its prior state.
	ErrorClassEdit ErrorClass = "edit"

	// ErrorClassSolve indicates a failure that the backtracking controller
	// may recover from by reverting speculative changes.
	ErrorClassSolve ErrorClass = "solve"

	// ErrorClassSession indicates a terminal failure of an evaluation.
	ErrorClassSession ErrorClass = "session"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for propagation decisions.
	Class ErrorClass `json:"class"`

	// Code identifies the error kind for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Type is the model type involved, if applicable.
	Type string `json:"type,omitempty"`

	// Subject is the attribute, relation or directive involved, if applicable.
	Subject string `json:"subject,omitempty"`

	// Instance is the instance path involved, if applicable.
	Instance string `json:"instance,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	switch {
	case e.Instance != "" && e.Subject != "":
		msg = fmt.Sprintf("%s (instance=%s, subject=%s)", msg, e.Instance, e.Subject)
	case e.Type != "" && e.Subject != "":
		msg = fmt.Sprintf("%s (type=%s, subject=%s)", msg, e.Type, e.Subject)
	case e.Instance != "":
		msg = fmt.Sprintf("%s (instance=%s)", msg, e.Instance)
	case e.Type != "":
		msg = fmt.Sprintf("%s (type=%s)", msg, e.Type)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when their codes match.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Error codes.
const (
	ErrCodeDomainViolation         = "DOMAIN_VIOLATION"
	ErrCodeCardinalityViolation    = "CARDINALITY_VIOLATION"
	ErrCodeUnsatisfiableConstraint = "UNSATISFIABLE_CONSTRAINT"
	ErrCodeBacktrackExhausted      = "BACKTRACK_EXHAUSTED"
	ErrCodeCyclicDependency        = "CYCLIC_DEPENDENCY"
	ErrCodeInvalidReference        = "INVALID_REFERENCE"
	ErrCodeTypeMismatch            = "TYPE_MISMATCH"
	ErrCodeReadOnly                = "READ_ONLY_ATTRIBUTE"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// Sentinel errors for use with errors.Is.
var (
	ErrDomainViolation         = &EngineError{Class: ErrorClassEdit, Code: ErrCodeDomainViolation}
	ErrCardinalityViolation    = &EngineError{Class: ErrorClassEdit, Code: ErrCodeCardinalityViolation}
	ErrUnsatisfiableConstraint = &EngineError{Class: ErrorClassSolve, Code: ErrCodeUnsatisfiableConstraint}
	ErrBacktrackExhausted      = &EngineError{Class: ErrorClassSession, Code: ErrCodeBacktrackExhausted}
	ErrCyclicDependency        = &EngineError{Class: ErrorClassModel, Code: ErrCodeCyclicDependency}
	ErrInvalidReference        = &EngineError{Class: ErrorClassModel, Code: ErrCodeInvalidReference}
	ErrTypeMismatch            = &EngineError{Class: ErrorClassSolve, Code: ErrCodeTypeMismatch}
	ErrReadOnly                = &EngineError{Class: ErrorClassEdit, Code: ErrCodeReadOnly}
	ErrNotFound                = &EngineError{Class: ErrorClassEdit, Code: ErrCodeNotFound}
)

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewDomainViolation creates an error for a value outside its declared domain.
func NewDomainViolation(message string) *EngineError {
	return newError(ErrorClassEdit, ErrCodeDomainViolation, message, nil)
}

// NewCardinalityViolation creates an error for a relation count leaving [min..max].
func NewCardinalityViolation(message string) *EngineError {
	return newError(ErrorClassEdit, ErrCodeCardinalityViolation, message, nil)
}

// NewUnsatisfiableConstraint creates an error for a failed implication.
func NewUnsatisfiableConstraint(message string) *EngineError {
	return newError(ErrorClassSolve, ErrCodeUnsatisfiableConstraint, message, nil)
}

// NewBacktrackExhausted creates a terminal error for exceeded search bounds.
func NewBacktrackExhausted(message string, err error) *EngineError {
	return newError(ErrorClassSession, ErrCodeBacktrackExhausted, message, err)
}

// NewCyclicDependency creates a model error for a dependency cycle.
func NewCyclicDependency(message string) *EngineError {
	return newError(ErrorClassModel, ErrCodeCyclicDependency, message, nil)
}

// NewInvalidReference creates a model error for a dangling or ill-formed reference.
func NewInvalidReference(message string) *EngineError {
	return newError(ErrorClassModel, ErrCodeInvalidReference, message, nil)
}

// NewTypeMismatch creates an error for an operator applied to unsupported operand kinds.
func NewTypeMismatch(message string) *EngineError {
	return newError(ErrorClassSolve, ErrCodeTypeMismatch, message, nil)
}

// NewReadOnly creates an edit error for writes to engine-owned attributes.
func NewReadOnly(message string) *EngineError {
	return newError(ErrorClassEdit, ErrCodeReadOnly, message, nil)
}

// NewNotFound creates an edit error for unknown instances or members.
func NewNotFound(message string) *EngineError {
	return newError(ErrorClassEdit, ErrCodeNotFound, message, nil)
}

// NewModelError creates a generic model validation error.
func NewModelError(message string, err error) *EngineError {
	return newError(ErrorClassModel, ErrCodeValidation, message, err)
}

// NewInternalError creates an error for broken engine invariants.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrorClassSession, ErrCodeInternal, message, err)
}

// WithType adds model type context to an error.
func (e *EngineError) WithType(typeName string) *EngineError {
	e.Type = typeName
	return e
}

// WithSubject adds attribute/relation/directive context to an error.
func (e *EngineError) WithSubject(subject string) *EngineError {
	e.Subject = subject
	return e
}

// WithInstance adds instance context to an error.
func (e *EngineError) WithInstance(path string) *EngineError {
	e.Instance = path
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// codeOf returns the code of the first EngineError in err's chain.
func codeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the class of the first EngineError in err's chain.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// CodeOf returns the code of the first EngineError in err's chain, or "".
func CodeOf(err error) string {
	return codeOf(err)
}

// IsDomainViolation returns true if the error is a domain violation.
func IsDomainViolation(err error) bool {
	return codeOf(err) == ErrCodeDomainViolation
}

// IsCardinalityViolation returns true if the error is a cardinality violation.
func IsCardinalityViolation(err error) bool {
	return codeOf(err) == ErrCodeCardinalityViolation
}

// IsUnsatisfiable returns true if the error is an unsatisfiable constraint.
func IsUnsatisfiable(err error) bool {
	return codeOf(err) == ErrCodeUnsatisfiableConstraint
}

// IsBacktrackExhausted returns true if the error reports exhausted search bounds.
func IsBacktrackExhausted(err error) bool {
	return codeOf(err) == ErrCodeBacktrackExhausted
}

// IsTypeMismatch returns true if the error is an operand type mismatch.
func IsTypeMismatch(err error) bool {
	return codeOf(err) == ErrCodeTypeMismatch
}

// IsModelError returns true if the error rejects a model at load time.
func IsModelError(err error) bool {
	return ClassOf(err) == ErrorClassModel
}

// IsEditRejection returns true if the error rejected a single edit only.
func IsEditRejection(err error) bool {
	return ClassOf(err) == ErrorClassEdit
}
