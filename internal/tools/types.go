// Package tools resolves tool names to their executors and gates risky
// calls behind user confirmation.
package tools

import (
	"errors"
	"fmt"
)

// Category is the closed set of ways a tool name can resolve.
type Category int

const (
	// Unregistered is the passthrough variant for names nothing claims.
	Unregistered Category = iota
	// Local tools run in-process.
	Local
	// Remote tools are served by a gateway server.
	Remote
	// Completion is the attempt_completion signal, handled by the loop itself.
	Completion
)

func (c Category) String() string {
	switch c {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Completion:
		return "completion"
	default:
		return "unregistered"
	}
}

// AttemptCompletionToolName is the tool a model calls to declare the task done.
const AttemptCompletionToolName = "attempt_completion"

// ToolErrorType classifies tool failures fed back to the model.
type ToolErrorType string

const (
	ErrToolNotFound         ToolErrorType = "TOOL_NOT_FOUND"
	ErrConfirmationRejected ToolErrorType = "CONFIRMATION_REJECTED"
	ErrConfirmationTimeout  ToolErrorType = "CONFIRMATION_TIMEOUT"
	ErrGateway              ToolErrorType = "GATEWAY_ERROR"
	ErrInvalidArguments     ToolErrorType = "INVALID_ARGUMENTS"
	ErrCancelled            ToolErrorType = "CANCELLED"
)

// ToolError provides structured error information for retry logic.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// ErrorType returns the ToolErrorType carried by err, or "" if none.
func ErrorType(err error) ToolErrorType {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Type
	}
	return ""
}
