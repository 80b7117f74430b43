package broker

import (
	"context"

	"github.com/casualjim/coagent/envelope"
)

// Handler processes one envelope delivered on a subscription. Returned
// errors are logged; they never end the subscription.
type Handler func(context.Context, envelope.Envelope) error

// Broker hands out topics by name.
type Broker interface {
	Topic(context.Context, string) Topic
}

// Topic fans published envelopes out to its subscribers.
type Topic interface {
	Publish(context.Context, envelope.Envelope) error
	Subscribe(context.Context, Handler) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
	// Done is closed once the subscription stops delivering.
	Done() <-chan struct{}
}
