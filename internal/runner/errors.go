package runner

import (
	"errors"
	"fmt"

	"github.com/michaelbrown/crucible/internal/project"
	"github.com/michaelbrown/crucible/internal/toolchain"
)

// InternalError wraps a panic recovered while executing a request.
type InternalError struct {
	Value any
	Stack []byte
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

// IsEnvironment reports whether err is a failure of the host environment
// (project materialization, toolchain spawn, internal fault) as opposed to a
// problem with the submitted code.
func IsEnvironment(err error) bool {
	if err == nil {
		return false
	}
	var ie *InternalError
	return project.IsMaterializationError(err) || toolchain.IsInvocationError(err) || errors.As(err, &ie)
}
