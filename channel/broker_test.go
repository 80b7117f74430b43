package channel

import (
	"context"
	"testing"
	"time"

	"github.com/casualjim/coagent/envelope"
	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brokerChannels(t *testing.T) map[string]func(t *testing.T) *BrokerChannel {
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	return map[string]func(t *testing.T) *BrokerChannel{
		"Local": func(*testing.T) *BrokerChannel { return Local() },
		"NATS": func(t *testing.T) *BrokerChannel {
			nc, err := nats.Connect(srv.ClientURL())
			require.NoError(t, err)
			t.Cleanup(nc.Close)
			return NATS(nc)
		},
	}
}

func receiveOne(t *testing.T, ch <-chan envelope.Envelope) envelope.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for envelope")
		return envelope.Envelope{}
	}
}

func TestBrokerChannel(t *testing.T) {
	for name, create := range brokerChannels(t) {
		t.Run(name+"/register receives on the factory topic", func(t *testing.T) {
			ch := create(t)
			ctx := context.Background()

			received := make(chan envelope.Envelope, 1)
			sub, err := ch.Register(ctx, "server", "The Pong Server.", func(_ context.Context, env envelope.Envelope) error {
				received <- env
				return nil
			})
			require.NoError(t, err)
			defer sub.Unsubscribe()

			created, err := envelope.AgentCreated{Addr: envelope.Address{Name: "server", ID: "a1"}}.Encode()
			require.NoError(t, err)
			require.NoError(t, ch.Publish(ctx, envelope.Address{Name: "server"}, created))

			env := receiveOne(t, received)
			assert.True(t, env.Is(envelope.KindAgentCreated))
		})

		t.Run(name+"/subscribe receives on the instance topic only", func(t *testing.T) {
			ch := create(t)
			ctx := context.Background()

			recvA := make(chan envelope.Envelope, 2)
			recvB := make(chan envelope.Envelope, 2)
			subA, err := ch.Subscribe(ctx, envelope.Address{Name: "server", ID: "a"}, func(_ context.Context, env envelope.Envelope) error {
				recvA <- env
				return nil
			})
			require.NoError(t, err)
			defer subA.Unsubscribe()
			subB, err := ch.Subscribe(ctx, envelope.Address{Name: "server", ID: "b"}, func(_ context.Context, env envelope.Envelope) error {
				recvB <- env
				return nil
			})
			require.NoError(t, err)
			defer subB.Unsubscribe()

			reply := envelope.NewInbox()
			require.NoError(t, ch.Publish(ctx, envelope.Address{Name: "server", ID: "a"}, envelope.New(envelope.KindPing).WithReply(reply)))

			env := receiveOne(t, recvA)
			require.NotNil(t, env.Reply)
			assert.Equal(t, reply, *env.Reply)

			select {
			case env := <-recvB:
				t.Fatalf("unexpected envelope on b: %v", env)
			case <-time.After(100 * time.Millisecond):
			}
		})

		t.Run(name+"/nil handler is a transport error", func(t *testing.T) {
			ch := create(t)
			_, err := ch.Subscribe(context.Background(), envelope.Address{Name: "server", ID: "a"}, nil)
			assert.ErrorIs(t, err, ErrTransport)
		})
	}
}
