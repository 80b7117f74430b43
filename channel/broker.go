package channel

import (
	"context"

	"github.com/casualjim/coagent/envelope"
	"github.com/casualjim/coagent/internal/broker"
	"github.com/nats-io/nats.go"
)

var _ Channel = (*BrokerChannel)(nil)

// BrokerChannel routes envelopes through topic based pub/sub. Lifecycle
// notifications for a registered name travel on the factory topic of that
// name, and an instance receives on the topic of its address. There is no
// coordinator in between: whoever manages instances publishes AgentCreated
// and AgentDeleted to the factory address.
type BrokerChannel struct {
	broker broker.Broker
}

// Local returns a channel backed by an in-process broker.
func Local() *BrokerChannel {
	return &BrokerChannel{broker: broker.Local()}
}

// NATS returns a channel backed by the NATS connection.
func NATS(conn *nats.Conn) *BrokerChannel {
	return &BrokerChannel{broker: broker.NATS(conn)}
}

func (c *BrokerChannel) Publish(ctx context.Context, addr envelope.Address, msg envelope.Envelope) error {
	topic := addr.Topic()
	if err := c.broker.Topic(ctx, topic).Publish(ctx, msg); err != nil {
		return &TransportError{Op: "publish", Target: topic, Err: err}
	}
	return nil
}

// Register subscribes handler to the factory topic of name. The description
// is not transmitted; topic based brokers keep no catalog.
func (c *BrokerChannel) Register(ctx context.Context, name, _ string, handler Handler) (Subscription, error) {
	return c.subscribe(ctx, "register", envelope.Address{Name: name}.Topic(), handler)
}

func (c *BrokerChannel) Subscribe(ctx context.Context, addr envelope.Address, handler Handler) (Subscription, error) {
	return c.subscribe(ctx, "subscribe", addr.Topic(), handler)
}

func (c *BrokerChannel) subscribe(ctx context.Context, op, topic string, handler Handler) (Subscription, error) {
	var h broker.Handler
	if handler != nil {
		h = broker.Handler(handler)
	}
	sub, err := c.broker.Topic(ctx, topic).Subscribe(ctx, h)
	if err != nil {
		return nil, &TransportError{Op: op, Target: topic, Err: err}
	}
	return sub, nil
}
