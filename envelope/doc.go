// Package envelope defines the typed wrapper exchanged between agents over the
// coordinator's pub/sub channel.
//
// An Envelope carries a Header whose Type discriminates its semantic kind, an
// optional string-encoded Content payload and an optional Reply address. When
// Reply is nil the sender does not expect a response.
//
// Key concepts:
//   - Address: the broker-issued identity of an agent instance ({name, id}),
//     mapped onto a broker topic by Topic.
//   - Kind: the well-known header types (Ping, Pong, PartialPong,
//     StopIteration, Empty, Error, AgentCreated, AgentDeleted).
//   - Lifecycle: the closed set of notifications delivered on a registration
//     stream, decoded with DecodeLifecycle.
//
// Example usage:
//
//	env := envelope.New(envelope.KindPing).WithReply(envelope.NewInbox())
//	data, err := env.Encode()
//	if err != nil {
//	    return err
//	}
//
//	lc, err := envelope.DecodeLifecycle(incoming)
//	switch ev := lc.(type) {
//	case envelope.AgentCreated:
//	    // ev.Addr is the address assigned by the coordinator
//	}
package envelope
