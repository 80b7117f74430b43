package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/casualjim/coagent/envelope"
	"github.com/casualjim/coagent/internal/sse"
	"github.com/casualjim/coagent/pkg/slogx"
	"github.com/casualjim/coagent/pkg/uuidx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/tidwall/sjson"
)

// Endpoints of the coordinator HTTP API.
const (
	PathPublish   = "/runtime/channel/publish"
	PathSubscribe = "/runtime/channel/subscribe"
	PathRegister  = "/runtime/register"

	// DefaultServer is the coordinator address used when none is configured.
	DefaultServer = "http://127.0.0.1:8000"

	maxErrorBody = 4 << 10
)

var _ Channel = (*HTTPChannel)(nil)

// HTTPChannel talks to the coordinator's HTTP API. Subscriptions are POST
// requests answered with an event stream of JSON encoded envelopes.
type HTTPChannel struct {
	baseURL string
	auth    string
	client  *http.Client
	logger  *slog.Logger
}

var (
	// WithAuth attaches "Authorization: Bearer <token>" to every request.
	WithAuth = opts.ForName[HTTPChannel, string]("auth")
	// WithHTTPClient replaces the default pooled client. Subscriptions are
	// long lived, so the client must not set an overall timeout.
	WithHTTPClient = opts.ForName[HTTPChannel, *http.Client]("client")
	// WithLogger sets the logger stream failures are reported to.
	WithLogger = opts.ForName[HTTPChannel, *slog.Logger]("logger")
)

// HTTP returns a channel for the coordinator at baseURL.
func HTTP(baseURL string, options ...opts.Option[HTTPChannel]) (*HTTPChannel, error) {
	if baseURL == "" {
		baseURL = DefaultServer
	}
	c := &HTTPChannel{
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}
	if c.client == nil {
		c.client = cleanhttp.DefaultPooledClient()
	}
	c.logger = slogx.Named(c.logger, "channel.http")
	return c, nil
}

// BaseURL returns the coordinator address requests are sent to.
func (c *HTTPChannel) BaseURL() string {
	return c.baseURL
}

func (c *HTTPChannel) Publish(ctx context.Context, addr envelope.Address, msg envelope.Envelope) error {
	body, err := json.Marshal(struct {
		Addr envelope.Address  `json:"addr"`
		Msg  envelope.Envelope `json:"msg"`
	}{addr, msg})
	if err != nil {
		return fmt.Errorf("failed to encode publish request: %w", err)
	}

	url := c.baseURL + PathPublish
	resp, err := c.post(ctx, url, body)
	if err != nil {
		return &TransportError{Op: "publish", Target: url, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return &TransportError{Op: "publish", Target: url, StatusCode: resp.StatusCode, Err: readErrorBody(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPChannel) Register(ctx context.Context, name, description string, handler Handler) (Subscription, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "name", name)
	if err == nil {
		body, err = sjson.SetBytes(body, "description", description)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode register request: %w", err)
	}
	return c.Stream(ctx, PathRegister, json.RawMessage(body), handler)
}

func (c *HTTPChannel) Subscribe(ctx context.Context, addr envelope.Address, handler Handler) (Subscription, error) {
	return c.Stream(ctx, PathSubscribe, struct {
		Addr envelope.Address `json:"addr"`
	}{addr}, handler)
}

// Stream opens a subscription by posting payload to path. The call returns
// once the coordinator accepted the request; a failed request yields a
// *TransportError and no subscription. Events are then decoded and handed to
// handler on a separate goroutine until the stream ends, ctx is done, or the
// subscription is canceled.
//
// Handlers receive ctx itself. Unsubscribe only aborts reading the stream, so
// an invocation already running is not interrupted by it.
func (c *HTTPChannel) Stream(ctx context.Context, path string, payload any, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscribe request: %w", err)
	}

	url := c.baseURL + path
	handlerCtx := ctx
	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.post(ctx, url, body, header{"Accept", "text/event-stream"})
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "subscribe", Target: url, Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		cancel()
		return nil, &TransportError{Op: "subscribe", Target: url, StatusCode: resp.StatusCode, Err: readErrorBody(resp.Body)}
	}

	sub := &streamSubscription{
		id:     uuidx.NewString(),
		path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
		pub:    c,
		logger: c.logger,
	}
	go sub.run(ctx, handlerCtx, resp.Body, handler)
	return sub, nil
}

type header struct {
	key, value string
}

func (c *HTTPChannel) post(ctx context.Context, url string, body []byte, extra ...header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}
	for _, h := range extra {
		req.Header.Set(h.key, h.value)
	}
	return c.client.Do(req)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func readErrorBody(r io.Reader) error {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

type streamSubscription struct {
	id     string
	path   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	pub    Publisher
	logger *slog.Logger
}

func (s *streamSubscription) ID() string {
	return s.id
}

func (s *streamSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *streamSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

func (s *streamSubscription) run(ctx, handlerCtx context.Context, body io.ReadCloser, handler Handler) {
	defer close(s.done)
	defer body.Close()
	defer s.Unsubscribe()

	logger := s.logger.With(slog.String("path", s.path), slog.String("subscription", s.id))
	reader := sse.NewReader(body)
	for {
		ev, err := reader.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				logger.Debug("event stream closed by server")
			default:
				logger.Error("failed to read event stream", slogx.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		if ev.Type == "error" {
			logger.Error("coordinator reported an error", slog.String("data", ev.Data))
			continue
		}

		env, err := envelope.Decode([]byte(ev.Data))
		if err != nil {
			logger.Error("failed to decode envelope", slogx.Error(err), slogx.ByteString("data", []byte(ev.Data)))
			s.rejectMalformed(handlerCtx, logger, []byte(ev.Data), err)
			continue
		}
		if err := handler(handlerCtx, env); err != nil {
			logger.Error("subscription handler failed", slogx.Error(err), slog.String("type", string(env.Kind())))
		}
	}
}

// rejectMalformed answers an undecodable envelope with a MessageDecodeError
// when its reply address can still be read.
func (s *streamSubscription) rejectMalformed(ctx context.Context, logger *slog.Logger, data []byte, cause error) {
	reply, ok := envelope.ReplyAddress(data)
	if !ok {
		return
	}
	if err := s.pub.Publish(ctx, reply, envelope.NewError(envelope.CodeMessageDecode, cause.Error())); err != nil {
		logger.Error("failed to report decode error", slogx.Error(err), slogx.Stringer("reply", reply))
	}
}
