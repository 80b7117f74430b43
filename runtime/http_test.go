package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/coagent/channel"
	"github.com/casualjim/coagent/envelope"
	"github.com/casualjim/coagent/internal/pingpong"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type delivery struct {
	addr envelope.Address
	msg  envelope.Envelope
}

// coordinator serves register and subscribe requests as event streams keyed
// by topic and records everything posted to the publish endpoint.
type coordinator struct {
	mu        sync.Mutex
	streams   map[string]chan string
	published []delivery
	quit      chan struct{}
	srv       *httptest.Server
}

func newCoordinator(t *testing.T) *coordinator {
	c := &coordinator{
		streams: make(map[string]chan string),
		quit:    make(chan struct{}),
	}
	c.srv = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.srv.Close)
	t.Cleanup(func() { close(c.quit) })
	return c
}

func (c *coordinator) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	switch r.URL.Path {
	case channel.PathRegister:
		c.stream(w, r, envelope.Address{Name: gjson.GetBytes(body, "name").String()}.Topic())
	case channel.PathSubscribe:
		var addr envelope.Address
		if err := json.Unmarshal([]byte(gjson.GetBytes(body, "addr").Raw), &addr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.stream(w, r, addr.Topic())
	case channel.PathPublish:
		var req struct {
			Addr envelope.Address  `json:"addr"`
			Msg  envelope.Envelope `json:"msg"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.published = append(c.published, delivery{addr: req.Addr, msg: req.Msg})
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (c *coordinator) stream(w http.ResponseWriter, r *http.Request, key string) {
	events := make(chan string, 16)
	c.mu.Lock()
	c.streams[key] = events
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.streams[key] == events {
			delete(c.streams, key)
		}
		c.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	flusher.Flush()
	for {
		select {
		case ev := <-events:
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-c.quit:
			return
		}
	}
}

// send pushes env down the stream opened for addr once it exists.
func (c *coordinator) send(t *testing.T, addr envelope.Address, env envelope.Envelope) {
	t.Helper()
	var events chan string
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		events = c.streams[addr.Topic()]
		return events != nil
	}, waitFor, 5*time.Millisecond)

	data, err := env.Encode()
	require.NoError(t, err)
	events <- string(data)
}

func (c *coordinator) replies(to envelope.Address) []envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []envelope.Envelope
	for _, d := range c.published {
		if d.addr == to {
			out = append(out, d.msg)
		}
	}
	return out
}

func kinds(envs []envelope.Envelope) []envelope.Kind {
	out := make([]envelope.Kind, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Kind())
	}
	return out
}

func TestHTTPCoordinator(t *testing.T) {
	// setup registers a stream server and starts one Ping on it, returning
	// once at least two parts were published.
	setup := func(t *testing.T, ctx context.Context, delay time.Duration) (*coordinator, *Runtime, envelope.Address, envelope.Address) {
		t.Helper()
		c := newCoordinator(t)
		ch, err := channel.HTTP(c.srv.URL)
		require.NoError(t, err)
		rt := New(ch)
		t.Cleanup(func() { _ = rt.Close() })

		require.NoError(t, rt.Register(ctx, pingpong.StreamServerName,
			pingpong.StreamServerFactory(pingpong.WithDelay(delay)), pingpong.StreamServerDescription))

		a2 := envelope.Address{Name: pingpong.StreamServerName, ID: "A2"}
		c.send(t, a2.Factory(), created(t, a2))
		waitForAgent(t, rt, a2)

		r2 := envelope.Address{Name: envelope.InboxPrefix + "R2"}
		c.send(t, a2, envelope.New(envelope.KindPing).WithReply(r2))
		require.Eventually(t, func() bool { return len(c.replies(r2)) >= 2 }, waitFor, time.Millisecond)
		return c, rt, a2, r2
	}

	t.Run("deleting an agent mid-stream still finishes its reply", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c, rt, a2, r2 := setup(t, ctx, 20*time.Millisecond)

		c.send(t, a2.Factory(), deleted(t, a2))
		require.Eventually(t, func() bool { return len(rt.Agents()) == 0 }, waitFor, 5*time.Millisecond)

		want := len(pingpong.Words) + 1
		require.Eventually(t, func() bool { return len(c.replies(r2)) >= want }, waitFor, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		got := c.replies(r2)
		require.Len(t, got, want)
		for _, env := range got[:len(pingpong.Words)] {
			assert.Equal(t, envelope.KindPartialPong, env.Kind())
		}
		assert.Equal(t, envelope.KindStopIteration, got[want-1].Kind())
	})

	t.Run("canceling the registration context cuts the reply short with StopIteration last", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c, rt, _, r2 := setup(t, ctx, 50*time.Millisecond)

		cancel()
		require.Eventually(t, func() bool { return len(rt.Agents()) == 0 }, waitFor, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			got := c.replies(r2)
			return got[len(got)-1].Is(envelope.KindStopIteration)
		}, waitFor, 5*time.Millisecond)

		time.Sleep(50 * time.Millisecond)
		got := c.replies(r2)
		assert.Less(t, len(got), len(pingpong.Words)+1)
		assert.Equal(t, envelope.KindStopIteration, got[len(got)-1].Kind())
		assert.Equal(t, 1, countKind(got, envelope.KindStopIteration))
		if errs := countKind(got, envelope.KindError); errs > 0 {
			assert.Equal(t, envelope.KindError, got[len(got)-2].Kind())
		}
	})

	t.Run("Close waits for the reply in flight", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c, rt, _, r2 := setup(t, ctx, 10*time.Millisecond)

		require.NoError(t, rt.Close())
		assert.Empty(t, rt.Agents())

		got := c.replies(r2)
		require.Len(t, got, len(pingpong.Words)+1, "replies: %v", kinds(got))
		assert.Equal(t, envelope.KindStopIteration, got[len(got)-1].Kind())
	})
}

func countKind(envs []envelope.Envelope, kind envelope.Kind) int {
	n := 0
	for _, env := range envs {
		if env.Is(kind) {
			n++
		}
	}
	return n
}
