package agent

import (
	"errors"
	"fmt"

	"github.com/casualjim/coagent/envelope"
)

// ErrHandlerFailure matches every *HandlerError with errors.Is.
var ErrHandlerFailure = errors.New("handler failure")

// HandlerError reports a failure inside an agent's handler.
type HandlerError struct {
	Addr envelope.Address
	Type envelope.Kind
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("agent %s failed to handle %s: %v", e.Addr, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailure
}
