package prompts

import "fmt"

// NotFoundError indicates an unknown agent or a missing version.
type NotFoundError struct {
	Agent   Agent
	Version int
}

func (e *NotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("prompt version %d not found for %s", e.Version, e.Agent)
	}
	return fmt.Sprintf("unknown agent: %s", e.Agent)
}

// InvalidOperationError indicates a mutation that would violate a store
// invariant, such as deleting the active version.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return e.Reason
}
