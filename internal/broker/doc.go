// Package broker implements topic based pub/sub of envelopes. It backs the
// in-process and NATS channels.
//
// Design decisions:
//   - Context-first: subscriptions end when their context is canceled
//   - Sequential delivery: a subscription hands envelopes to its handler one
//     at a time, in arrival order, and reads the next only after the handler
//     returns
//   - Explicit lifecycle: Unsubscribe is idempotent and Done reports when
//     delivery stopped
//
// Interface hierarchy:
//   - Broker: access to topics by subject
//     └── Topic: publish to and subscribe on one subject
//     └── Subscription: handle on one subscriber
//
// Example usage:
//
//	b := broker.Local()
//	topic := b.Topic(ctx, addr.Topic())
//
//	sub, err := topic.Subscribe(ctx, func(ctx context.Context, env envelope.Envelope) error {
//	    return agent.Receive(ctx, env)
//	})
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
//
//	if err := topic.Publish(ctx, envelope.New(envelope.KindPing)); err != nil {
//	    return err
//	}
package broker
