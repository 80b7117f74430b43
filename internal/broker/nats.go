package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/coagent/envelope"
	"github.com/casualjim/coagent/pkg/slogx"
	"github.com/casualjim/coagent/pkg/uuidx"
	"github.com/nats-io/nats.go"
)

type natsBroker struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
}

// NATS returns a broker that maps topics onto NATS subjects.
func NATS(client *nats.Conn) *natsBroker {
	return &natsBroker{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(ctx context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: id,
			client:  b.client,
		}
	})
	return top
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(ctx context.Context, env envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := t.client.Publish(t.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", t.subject, err)
	}
	return nil
}

func (t *natsTopic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	sub := &natsSubscription{
		id:   uuidx.NewString(),
		done: make(chan struct{}),
	}

	// NATS runs the callbacks of one subscription on a single goroutine, in
	// arrival order.
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		select {
		case <-sub.done:
			return
		default:
		}

		env, err := envelope.Decode(msg.Data)
		if err != nil {
			slog.Error("failed to decode envelope", slogx.Error(err), slog.String("subject", t.subject), slogx.ByteString("data", msg.Data))
			t.rejectMalformed(msg.Data, err)
			return
		}
		if err := handler(ctx, env); err != nil {
			slog.Error("subscription handler failed",
				slogx.Error(err),
				slog.String("subject", t.subject),
				slog.String("subscription", sub.id),
				slog.String("type", string(env.Kind())),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.subject, err)
	}
	sub.sub = nsub
	nsub.SetClosedHandler(func(_ string) { sub.close() })

	if err := t.client.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.subject, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// rejectMalformed answers an undecodable envelope with a MessageDecodeError
// when its reply address can still be read.
func (t *natsTopic) rejectMalformed(data []byte, cause error) {
	reply, ok := envelope.ReplyAddress(data)
	if !ok {
		return
	}
	out, err := envelope.NewError(envelope.CodeMessageDecode, cause.Error()).Encode()
	if err == nil {
		err = t.client.Publish(reply.Topic(), out)
	}
	if err != nil {
		slog.Error("failed to report decode error", slogx.Error(err), slog.String("subject", reply.Topic()))
	}
}

type natsSubscription struct {
	id        string
	sub       *nats.Subscription
	done      chan struct{}
	closeOnce sync.Once
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Done() <-chan struct{} {
	return n.done
}

func (n *natsSubscription) close() {
	n.closeOnce.Do(func() { close(n.done) })
}

func (n *natsSubscription) Unsubscribe() {
	defer n.close()
	if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
		slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
	}
}
