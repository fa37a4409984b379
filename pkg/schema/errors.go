package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeDefinitionNotFound = "DEFINITION_NOT_FOUND"
	ErrCodeInvalidStartNode   = "INVALID_START_NODE"
	ErrCodeNoMatchingBranch   = "NO_MATCHING_BRANCH"
	ErrCodeRecursionLimit     = "RECURSION_LIMIT_EXCEEDED"
	ErrCodeUnresolvedRef      = "UNRESOLVED_REFERENCE"
	ErrCodePathViolation      = "PATH_VIOLATION"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeExecutor           = "EXECUTOR_ERROR"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeRejected           = "REJECTED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeVault              = "VAULT_ERROR"
)

// FlowError is the structured error type for all engine operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// IsRetryable reports whether a retry of the failed attempt could succeed.
// Only timeouts and executor failures qualify; an executor may opt out by
// setting Details["retryable"] = false (e.g. an HTTP 4xx response).
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout:
		return true
	case ErrCodeExecutor:
		if e.Details != nil {
			if v, ok := e.Details["retryable"].(bool); ok {
				return v
			}
		}
		return true
	default:
		return false
	}
}

// AsFlowError extracts a *FlowError from err, wrapping foreign errors
// under the given fallback code.
func AsFlowError(err error, fallbackCode string) *FlowError {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*FlowError); ok {
		return fe
	}
	return NewError(fallbackCode, err.Error()).WithCause(err)
}
