package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/casualjim/coagent/channel"
	"github.com/casualjim/coagent/envelope"
	"github.com/casualjim/coagent/pkg/slogx"
	"github.com/fogfish/opts"
)

// Handler produces a single reply per message. A zero envelope is replied
// as Empty.
type Handler interface {
	Handle(ctx context.Context, msg envelope.Envelope) (envelope.Envelope, error)
}

// StreamHandler produces a sequence of partial replies per message. A
// non-nil error ends the sequence.
type StreamHandler interface {
	HandleStream(ctx context.Context, msg envelope.Envelope) iter.Seq2[envelope.Envelope, error]
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg envelope.Envelope) (envelope.Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, msg envelope.Envelope) (envelope.Envelope, error) {
	return f(ctx, msg)
}

// StreamHandlerFunc adapts a function to StreamHandler.
type StreamHandlerFunc func(ctx context.Context, msg envelope.Envelope) iter.Seq2[envelope.Envelope, error]

func (f StreamHandlerFunc) HandleStream(ctx context.Context, msg envelope.Envelope) iter.Seq2[envelope.Envelope, error] {
	return f(ctx, msg)
}

// Factory builds the agent for an address assigned by the coordinator.
type Factory func(ch channel.Channel, addr envelope.Address) (*Agent, error)

// Agent is a message handler bound to one address for its whole lifetime.
type Agent struct {
	addr   envelope.Address
	pub    channel.Publisher
	single Handler
	stream StreamHandler
	logger *slog.Logger
}

// WithLogger sets the logger handler failures are reported to.
var WithLogger = opts.ForName[Agent, *slog.Logger]("logger")

// Single returns an agent that answers each message with one reply.
func Single(pub channel.Publisher, addr envelope.Address, h Handler, options ...opts.Option[Agent]) *Agent {
	return newAgent(&Agent{addr: addr, pub: pub, single: h}, options)
}

// Streaming returns an agent that answers each message with a stream of
// partial replies terminated by StopIteration.
func Streaming(pub channel.Publisher, addr envelope.Address, h StreamHandler, options ...opts.Option[Agent]) *Agent {
	return newAgent(&Agent{addr: addr, pub: pub, stream: h}, options)
}

func newAgent(a *Agent, options []opts.Option[Agent]) *Agent {
	if err := opts.Apply(a, options); err != nil {
		panic(err)
	}
	a.logger = slogx.Named(a.logger, "agent").With(slog.Any("addr", a.addr))
	return a
}

// Address returns the address the agent is bound to.
func (a *Agent) Address() envelope.Address {
	return a.addr
}

// Streams reports whether the agent replies with a stream.
func (a *Agent) Streams() bool {
	return a.stream != nil
}

// Close releases the handler when it implements io.Closer.
func (a *Agent) Close() error {
	var h any = a.single
	if a.stream != nil {
		h = a.stream
	}
	if c, ok := h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// finalPublishTimeout bounds the Error and StopIteration publishes that run
// after the context of the message was canceled.
const finalPublishTimeout = 5 * time.Second

// receipt tracks one Receive call.
type receipt struct {
	msg    envelope.Envelope
	failed bool
	err    error
}

// Receive handles msg and relays the outcome to msg.Reply.
//
// Once a reply stream started, it always ends with StopIteration, even when
// ctx is canceled while the handler runs.
func (a *Agent) Receive(ctx context.Context, msg envelope.Envelope) (err error) {
	a.logger.Debug("received a message", slog.String("type", string(msg.Kind())), slog.Bool("reply", msg.ExpectsReply()))

	rc := &receipt{msg: msg}
	defer func() {
		if r := recover(); r != nil {
			if rc.failed {
				a.logger.Error("handler panicked after failing", slog.Any("panic", r))
				err = rc.err
				return
			}
			err = a.fail(ctx, rc, fmt.Errorf("panic: %v", r))
		}
	}()

	if a.stream != nil {
		return a.receiveStream(ctx, rc)
	}
	return a.receiveSingle(ctx, rc)
}

func (a *Agent) receiveSingle(ctx context.Context, rc *receipt) error {
	msg := rc.msg
	result, err := a.single.Handle(ctx, msg)
	if err != nil {
		return a.fail(ctx, rc, err)
	}
	if !msg.ExpectsReply() {
		return nil
	}
	if result.Kind() == "" {
		result = envelope.Empty()
	}
	a.logger.Debug("result", slog.String("type", string(result.Kind())))
	return a.publish(ctx, msg, result)
}

func (a *Agent) receiveStream(ctx context.Context, rc *receipt) error {
	msg := rc.msg
	seq := a.stream.HandleStream(ctx, msg)
	if seq != nil {
		for part, err := range seq {
			if err != nil {
				return a.fail(ctx, rc, err)
			}
			if !msg.ExpectsReply() {
				continue
			}
			a.logger.Debug("partial result", slog.String("type", string(part.Kind())))
			if err := a.publish(ctx, msg, part); err != nil {
				if stopErr := a.publishFinal(ctx, msg, envelope.StopIteration()); stopErr != nil {
					return errors.Join(err, stopErr)
				}
				return err
			}
		}
	}
	if !msg.ExpectsReply() {
		return nil
	}
	return a.publishFinal(ctx, msg, envelope.StopIteration())
}

// fail reports a handler failure to the sender, when it asked for a reply,
// and returns it as a *HandlerError. It reports at most once per receipt.
func (a *Agent) fail(ctx context.Context, rc *receipt, cause error) error {
	msg := rc.msg
	herr := &HandlerError{Addr: a.addr, Type: msg.Kind(), Err: cause}
	if rc.failed {
		return rc.err
	}
	rc.failed = true
	rc.err = herr
	if !msg.ExpectsReply() {
		return herr
	}

	var errs []error
	if err := a.publishFinal(ctx, msg, envelope.NewError(envelope.CodeInternal, cause.Error())); err != nil {
		errs = append(errs, err)
	}
	if a.stream != nil {
		if err := a.publishFinal(ctx, msg, envelope.StopIteration()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		rc.err = errors.Join(append([]error{herr}, errs...)...)
	}
	return rc.err
}

// publishFinal publishes an envelope that closes the reply, detached from
// the cancellation of ctx.
func (a *Agent) publishFinal(ctx context.Context, msg envelope.Envelope, out envelope.Envelope) error {
	if ctx.Err() == nil {
		return a.publish(ctx, msg, out)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalPublishTimeout)
	defer cancel()
	return a.publish(ctx, msg, out)
}

func (a *Agent) publish(ctx context.Context, msg envelope.Envelope, out envelope.Envelope) error {
	if err := a.pub.Publish(ctx, *msg.Reply, out); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", out.Kind(), msg.Reply, err)
	}
	return nil
}
