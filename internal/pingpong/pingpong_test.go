package pingpong

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/casualjim/coagent/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	t.Run("answers Ping with Pong", func(t *testing.T) {
		out, err := Server{}.Handle(context.Background(), envelope.New(envelope.KindPing))
		require.NoError(t, err)
		assert.Equal(t, envelope.KindPong, out.Kind())
		assert.Empty(t, out.Content)
	})

	t.Run("answers anything else with Empty", func(t *testing.T) {
		out, err := Server{}.Handle(context.Background(), envelope.New(envelope.KindPong))
		require.NoError(t, err)
		assert.Equal(t, envelope.KindEmpty, out.Kind())
	})

	t.Run("factory binds the address", func(t *testing.T) {
		addr := envelope.Address{Name: ServerName, ID: "a1"}
		a, err := NewServer(nil, addr)
		require.NoError(t, err)
		assert.Equal(t, addr, a.Address())
		assert.False(t, a.Streams())
	})
}

func TestStreamServer(t *testing.T) {
	t.Run("yields the words in order", func(t *testing.T) {
		s := NewStreamServerHandler(WithDelay(0))

		var got []string
		for part, err := range s.HandleStream(context.Background(), envelope.New(envelope.KindPing)) {
			require.NoError(t, err)
			assert.Equal(t, envelope.KindPartialPong, part.Kind())
			var pp PartialPong
			require.NoError(t, part.DecodeContent(&pp))
			got = append(got, pp.Content)
		}
		assert.Equal(t, Words, got)
		assert.Equal(t, "Hi there, this is the Pong server.", strings.Join(got, ""))
	})

	t.Run("yields nothing for other messages", func(t *testing.T) {
		s := NewStreamServerHandler(WithDelay(0))
		count := 0
		for range s.HandleStream(context.Background(), envelope.New(envelope.KindPong)) {
			count++
		}
		assert.Zero(t, count)
	})

	t.Run("waits between words", func(t *testing.T) {
		s := NewStreamServerHandler(WithDelay(5 * time.Millisecond))
		start := time.Now()
		for _, err := range s.HandleStream(context.Background(), envelope.New(envelope.KindPing)) {
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), time.Duration(len(Words))*5*time.Millisecond)
	})

	t.Run("stops with the context error", func(t *testing.T) {
		s := NewStreamServerHandler(WithDelay(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var errs []error
		for _, err := range s.HandleStream(ctx, envelope.New(envelope.KindPing)) {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], context.Canceled)
	})

	t.Run("default delay", func(t *testing.T) {
		assert.Equal(t, DefaultDelay, NewStreamServerHandler().delay)
	})

	t.Run("factory builds a streaming agent", func(t *testing.T) {
		addr := envelope.Address{Name: StreamServerName, ID: "a2"}
		a, err := NewStreamServer(nil, addr)
		require.NoError(t, err)
		assert.Equal(t, addr, a.Address())
		assert.True(t, a.Streams())
	})
}
