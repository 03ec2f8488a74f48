// Package agent drives a model through repeated tool-using turns until it
// signals completion, runs out of chances, or is cancelled.
package agent

import (
	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/message"
)

// State is the lifecycle of one Run.
type State string

const (
	StateIdle                 State = "idle"
	StateActive               State = "active"
	StateCompleted            State = "completed"
	StateCancelled            State = "cancelled"
	StateMistakeLimitReached  State = "mistake_limit_reached"
	StateMaxIterationsReached State = "max_iterations_reached"
	StateFailed               State = "failed"
)

// Terminal reports whether the loop has stopped.
func (s State) Terminal() bool {
	return s != StateIdle && s != StateActive
}

// Result is the outcome of a Run.
type Result struct {
	State   State
	Message *message.Message
	// Text is the final answer: the completion signal's result when the
	// model signalled completion, otherwise the last assistant text.
	Text       string
	Iterations int
	ToolCalls  int
	Usage      llm.Usage
	// Err is set when the run failed.
	Err error
}
