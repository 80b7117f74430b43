// Package channel connects a process to the coordinator's pub/sub broker.
//
// A Channel separates one-shot sends (Publish) from long-lived receives
// (Register and Subscribe). Every subscription is an independent,
// cancellable unit: envelopes arriving on it are handed to its Handler one at
// a time, in arrival order, and the stream is not read further until the
// handler returns. Several subscriptions share one Channel without stalling
// each other.
//
// Implementations:
//   - HTTP: the coordinator's HTTP API, with event-stream responses for
//     subscriptions
//   - Local: an in-process broker, for tests and embedded coordinators
//   - NATS: subjects on a NATS server, using Address.Topic as the subject
//
// Example usage:
//
//	ch, err := channel.HTTP("http://127.0.0.1:8000", channel.WithAuth(token))
//	if err != nil {
//	    return err
//	}
//	sub, err := ch.Subscribe(ctx, addr, func(ctx context.Context, env envelope.Envelope) error {
//	    return a.Receive(ctx, env)
//	})
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
package channel
