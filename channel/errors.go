package channel

import (
	"errors"
	"fmt"
)

// ErrTransport matches every *TransportError with errors.Is.
var ErrTransport = errors.New("transport failure")

// TransportError reports a publish or subscribe call that did not complete.
type TransportError struct {
	Op         string
	Target     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Op, e.Target, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.Target, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, ErrTransport)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
