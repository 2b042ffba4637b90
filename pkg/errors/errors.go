// Package errors provides the structured error taxonomy for rest-migrate.
//
// Every failure surfaced by the fetch, mapping and import layers is an *Error
// carrying an ErrorType. Callers branch on the type with IsType or KindOf
// rather than matching message strings:
//
//	if errors.IsType(err, errors.ErrorTypeAuthenticationRequired) {
//	    challenge, _ := errors.Detail(err, "challenge")
//	    // ask a human for credentials and retry
//	}
//
// Record-level kinds (duplicate, missing mandatory field, link validation)
// are recovered inside a batch; IsRecoverable reports them.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotFound represents missing segments, documents or schema entries
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConnection represents transport and non-2xx HTTP failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeData represents malformed payloads and conversion failures
	ErrorTypeData ErrorType = "data"

	// ErrorTypeInvalidOperation rejects user requests such as fetching a group
	ErrorTypeInvalidOperation ErrorType = "invalid_operation"
	// ErrorTypeAuthenticationRequired carries a 401 challenge back to the caller
	ErrorTypeAuthenticationRequired ErrorType = "authentication_required"
	// ErrorTypeUnsupportedAuthScheme rejects credentials that are neither Basic nor Digest
	ErrorTypeUnsupportedAuthScheme ErrorType = "unsupported_auth_scheme"
	// ErrorTypeProviderNotConfigured means an OAuth challenge came from an unknown host
	ErrorTypeProviderNotConfigured ErrorType = "provider_not_configured"
	// ErrorTypeUnsupportedContentType rejects non-JSON responses
	ErrorTypeUnsupportedContentType ErrorType = "unsupported_content_type"
	// ErrorTypeDuplicateEntry is raised by the record store on a key conflict
	ErrorTypeDuplicateEntry ErrorType = "duplicate_entry"
	// ErrorTypeMandatoryFieldMissing is raised by the record store on insert
	ErrorTypeMandatoryFieldMissing ErrorType = "mandatory_field_missing"
	// ErrorTypeLinkValidation is raised when a link field points nowhere
	ErrorTypeLinkValidation ErrorType = "link_validation"
	// ErrorTypeUnsupportedFieldType aborts conversion into geolocation, password and similar fields
	ErrorTypeUnsupportedFieldType ErrorType = "unsupported_field_type"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. Returns nil for a nil error.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks whether the outermost structured error in the chain has the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// KindOf returns the type of the outermost structured error, or ErrorTypeInternal
func KindOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// Detail returns a detail value from the outermost structured error
func Detail(err error, key string) (interface{}, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// IsRecoverable reports the record-level kinds that never abort a batch
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case ErrorTypeDuplicateEntry, ErrorTypeMandatoryFieldMissing, ErrorTypeLinkValidation:
		return true
	default:
		return false
	}
}

// Is and As re-export the standard helpers so callers need a single import
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports errors.As
func As(err error, target interface{}) bool { return errors.As(err, target) }

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
