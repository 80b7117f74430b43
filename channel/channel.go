package channel

import (
	"context"

	"github.com/casualjim/coagent/envelope"
)

// Handler processes one envelope delivered on a subscription. An error is
// logged by the channel; it does not end the subscription.
type Handler func(context.Context, envelope.Envelope) error

// Publisher sends envelopes to addresses.
type Publisher interface {
	// Publish sends msg to addr. It is not retried on failure.
	Publish(ctx context.Context, addr envelope.Address, msg envelope.Envelope) error
}

// Channel connects the runtime and its agents to the coordinator.
type Channel interface {
	Publisher
	// Register announces the agent type name and streams its lifecycle
	// notifications to handler until ctx is done or the subscription is
	// canceled.
	Register(ctx context.Context, name, description string, handler Handler) (Subscription, error)
	// Subscribe streams the envelopes addressed to addr to handler.
	Subscribe(ctx context.Context, addr envelope.Address, handler Handler) (Subscription, error)
}

// Subscription is a handle on a long-lived stream.
type Subscription interface {
	ID() string
	// Unsubscribe aborts the stream. No envelope is delivered afterwards; a
	// handler already running is allowed to finish.
	Unsubscribe()
	// Done is closed once the stream stopped delivering.
	Done() <-chan struct{}
}
