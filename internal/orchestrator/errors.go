package orchestrator

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded marks a request that ran past its overall deadline. The
// handler maps it to a gateway timeout.
var ErrBudgetExceeded = errors.New("request deadline exceeded")

// ValidationError is a malformed request. Fatal, never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Msg)
}

// SafetyBlockedError means the input failed the safety gate. The pipeline
// aborts before retrieval or inference.
type SafetyBlockedError struct {
	RequestID string
	Reason    string
}

func (e *SafetyBlockedError) Error() string {
	return fmt.Sprintf("content blocked by safety guardrails: %s", e.Reason)
}
