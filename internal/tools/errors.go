package tools

import (
	"errors"
	"fmt"
	"strings"
)

// Errors for tool registry operations.
var (
	// ErrUnknownTool is returned when resolving a name with no registration.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when registering an already-taken name.
	ErrDuplicateTool = errors.New("tool already registered")
)

// InvalidArgumentsError reports schema validation failures for a tool call.
// Validation runs before any side effect.
type InvalidArgumentsError struct {
	Tool     string
	Missing  []string
	Mistyped []string
}

func (e *InvalidArgumentsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Mistyped) > 0 {
		parts = append(parts, "mistyped: "+strings.Join(e.Mistyped, ", "))
	}
	return fmt.Sprintf("invalid arguments for tool %s (%s)", e.Tool, strings.Join(parts, "; "))
}

// BrokerOperationError wraps any failure raised by the underlying broker
// call. Broker errors never propagate raw out of Invoke.
type BrokerOperationError struct {
	Tool string
	Err  error
}

func (e *BrokerOperationError) Error() string {
	return fmt.Sprintf("broker operation %s failed: %v", e.Tool, e.Err)
}

func (e *BrokerOperationError) Unwrap() error { return e.Err }
