package suspension

import (
	"context"

	"github.com/cschleiden/go-resume/core"
)

// Handler is invoked by the engine when an execution reaches a wait point. It must return without waiting for
// the execution to be resumed.
type Handler interface {
	Execute(ctx context.Context, e *core.Execution) error
}

// Binder is implemented by engines that suspend executions through a Handler provided after construction
type Binder interface {
	BindSuspensionHandler(h Handler)
}
