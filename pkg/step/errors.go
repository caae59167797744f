package step

import "fmt"

// ExecutionError attributes a failure raised by a step's own logic to that step.
type ExecutionError struct {
	Step string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
