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
)

const defaultSubscriberBuffer = 50

type localBroker struct {
	topics *haxmap.Map[string, *topic]
	buffer int
}

// Local returns an in-process broker. Publishing blocks while a subscriber's
// buffer is full, so a slow handler applies back-pressure to its publishers
// instead of losing envelopes.
func Local() *localBroker {
	return &localBroker{
		topics: haxmap.New[string, *topic](),
		buffer: defaultSubscriberBuffer,
	}
}

// WithSubscriberBuffer configures how many envelopes may queue per subscriber.
func (b *localBroker) WithSubscriberBuffer(size int) *localBroker {
	if size > 0 {
		b.buffer = size
	}
	return b
}

func (b *localBroker) Topic(ctx context.Context, id string) Topic {
	t, _ := b.topics.GetOrCompute(id, func() *topic {
		return &topic{
			ID:            id,
			subscriptions: haxmap.New[string, *subscription](),
			buffer:        b.buffer,
		}
	})
	return t
}

type topic struct {
	ID            string
	subscriptions *haxmap.Map[string, *subscription]
	buffer        int
}

func (t *topic) Publish(ctx context.Context, env envelope.Envelope) error {
	var err error
	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
			return false
		case <-sub.done:
			return true
		case <-sub.ctx.Done():
			sub.Unsubscribe()
			return true
		case sub.channel <- env:
		}
		return true
	})
	return err
}

func (t *topic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	return t.newSubscription(ctx, handler), nil
}

func (t *topic) newSubscription(ctx context.Context, handler Handler) *subscription {
	id := uuidx.NewString()
	sub := &subscription{
		id:      id,
		topic:   t.ID,
		ctx:     ctx,
		channel: make(chan envelope.Envelope, t.buffer),
		done:    make(chan struct{}),
		onClose: func() { t.subscriptions.Del(id) },
		handler: handler,
	}
	t.subscriptions.Set(id, sub)
	go sub.forwardToHandler()
	return sub
}

type subscription struct {
	id        string
	topic     string
	ctx       context.Context
	channel   chan envelope.Envelope
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	handler   Handler
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *subscription) forwardToHandler() {
	defer s.Unsubscribe()
	for {
		select {
		case env := <-s.channel:
			// an envelope may race with Unsubscribe; nothing is delivered after it
			select {
			case <-s.done:
				return
			default:
			}
			if err := s.handler(s.ctx, env); err != nil {
				slog.Error("subscription handler failed",
					slogx.Error(err),
					slog.String("topic", s.topic),
					slog.String("subscription", s.id),
					slog.String("type", string(env.Kind())),
				)
			}
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *subscription) String() string {
	return fmt.Sprintf("local subscription %s on %s", s.id, s.topic)
}
