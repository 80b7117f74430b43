package runtime

import (
	"errors"
	"fmt"

	"github.com/casualjim/coagent/envelope"
)

var (
	// ErrDuplicateRegistration matches every *DuplicateRegistrationError.
	ErrDuplicateRegistration = errors.New("agent type already registered")
	// ErrUnknownLifecycleEvent matches every *UnknownLifecycleEventError.
	ErrUnknownLifecycleEvent = errors.New("unknown lifecycle event")
	// ErrUnknownFactory is returned when the coordinator creates an agent of a
	// type this runtime never registered.
	ErrUnknownFactory = errors.New("no factory registered")
)

// DuplicateRegistrationError is returned by Register when the name is taken.
type DuplicateRegistrationError struct {
	Name string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("agent %s already registered", e.Name)
}

func (e *DuplicateRegistrationError) Is(target error) bool {
	return target == ErrDuplicateRegistration
}

// UnknownLifecycleEventError reports a lifecycle notification of a type the
// runtime does not handle. It is not fatal.
type UnknownLifecycleEventError struct {
	Type envelope.Kind
}

func (e *UnknownLifecycleEventError) Error() string {
	return fmt.Sprintf("unknown lifecycle event type: %q", e.Type)
}

func (e *UnknownLifecycleEventError) Is(target error) bool {
	return target == ErrUnknownLifecycleEvent
}
