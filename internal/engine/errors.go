package engine

import (
	"errors"
	"fmt"
)

// ErrorType classifies run failures by how callers should react.
type ErrorType string

const (
	// ErrorTypeMalformedInput rejects the whole request, nothing to scan.
	ErrorTypeMalformedInput ErrorType = "malformed_input"
	// ErrorTypeTokenStore means masking could not record its mappings.
	// The run must fail: an unresolvable token is a silent data loss.
	ErrorTypeTokenStore ErrorType = "token_store"
	// ErrorTypeReportStore means the assembled report could not be
	// persisted for later retrieval.
	ErrorTypeReportStore ErrorType = "report_store"
	// ErrorTypeInternal covers everything else.
	ErrorTypeInternal ErrorType = "internal"
)

// EngineError is a classified run failure.
type EngineError struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewEngineError creates a classified error.
func NewEngineError(errType ErrorType, message string, code int) *EngineError {
	return &EngineError{Type: errType, Message: message, Code: code}
}

// IsMalformedInput reports whether err is a request validation failure.
func IsMalformedInput(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Type == ErrorTypeMalformedInput
}
