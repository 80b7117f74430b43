// Package pingpong holds the demo agents served by the coagent command.
package pingpong

import (
	"context"
	"iter"
	"time"

	"github.com/casualjim/coagent/agent"
	"github.com/casualjim/coagent/channel"
	"github.com/casualjim/coagent/envelope"
	"github.com/fogfish/opts"
)

const (
	ServerName              = "server"
	ServerDescription       = "The Pong Server."
	StreamServerName        = "stream_server"
	StreamServerDescription = "The Stream Pong Server."

	// DefaultDelay is how long the stream server waits before each word.
	DefaultDelay = 600 * time.Millisecond
)

// Words is the reply of the stream server, one PartialPong per word.
var Words = []string{"Hi ", "there, ", "this ", "is ", "the ", "Pong ", "server."}

// PartialPong is the content of a PartialPong envelope.
type PartialPong struct {
	Content string `json:"content"`
}

// Server answers Ping with Pong.
type Server struct{}

// Handle answers Ping with Pong and everything else with Empty.
func (Server) Handle(_ context.Context, msg envelope.Envelope) (envelope.Envelope, error) {
	if !msg.Is(envelope.KindPing) {
		return envelope.Empty(), nil
	}
	return envelope.New(envelope.KindPong), nil
}

// NewServer is the agent.Factory of Server.
func NewServer(ch channel.Channel, addr envelope.Address) (*agent.Agent, error) {
	return agent.Single(ch, addr, Server{}), nil
}

// StreamServer answers Ping with the Words, one PartialPong at a time.
type StreamServer struct {
	delay time.Duration
}

// WithDelay sets the pause before each word. Zero streams without pausing.
var WithDelay = opts.ForName[StreamServer, time.Duration]("delay")

// NewStreamServerHandler returns a StreamServer pausing DefaultDelay unless
// WithDelay says otherwise. It panics on an invalid option.
func NewStreamServerHandler(options ...opts.Option[StreamServer]) *StreamServer {
	s := &StreamServer{delay: DefaultDelay}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	return s
}

// HandleStream yields one PartialPong per word and stops early with
// ctx.Err() once ctx is done. Anything but Ping gets an empty stream.
func (s *StreamServer) HandleStream(ctx context.Context, msg envelope.Envelope) iter.Seq2[envelope.Envelope, error] {
	return func(yield func(envelope.Envelope, error) bool) {
		if !msg.Is(envelope.KindPing) {
			return
		}
		for _, word := range Words {
			if err := s.wait(ctx); err != nil {
				yield(envelope.Envelope{}, err)
				return
			}
			part, err := envelope.NewJSON(envelope.KindPartialPong, PartialPong{Content: word})
			if !yield(part, err) || err != nil {
				return
			}
		}
	}
}

func (s *StreamServer) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StreamServerFactory returns the agent.Factory of StreamServer.
func StreamServerFactory(options ...opts.Option[StreamServer]) agent.Factory {
	return func(ch channel.Channel, addr envelope.Address) (*agent.Agent, error) {
		return agent.Streaming(ch, addr, NewStreamServerHandler(options...)), nil
	}
}

// NewStreamServer is the agent.Factory of StreamServer with the default delay.
func NewStreamServer(ch channel.Channel, addr envelope.Address) (*agent.Agent, error) {
	return StreamServerFactory()(ch, addr)
}
