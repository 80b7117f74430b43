// Package agent implements the message handlers bound to broker-assigned
// addresses and the reply protocol they speak.
//
// An Agent wraps exactly one of two capabilities, chosen when it is built:
//
//   - Handler: Handle returns a single reply. Single publishes it once to the
//     message's reply address.
//   - StreamHandler: HandleStream returns a pull-based sequence of partial
//     replies. Each element is published as soon as it is produced, and a
//     StopIteration envelope follows the last one.
//
// A consumer tells the two apart by whether a StopIteration arrives.
//
// Messages without a reply address are still handled, and streams are still
// drained, but nothing is published. When a handler fails and a reply address
// is present, an Error envelope is published in place of the result (followed
// by StopIteration for streams) and Receive returns a *HandlerError.
//
// Example usage:
//
//	func newEcho(ch channel.Channel, addr envelope.Address) (*agent.Agent, error) {
//	    return agent.Single(ch, addr, agent.HandlerFunc(func(ctx context.Context, msg envelope.Envelope) (envelope.Envelope, error) {
//	        return msg, nil
//	    })), nil
//	}
package agent
