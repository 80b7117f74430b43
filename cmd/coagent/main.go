// Command coagent connects the demo agents to a coordinator and serves them
// until interrupted.
//
// Usage:
//
//	coagent --server http://127.0.0.1:8000 --auth TOKEN
//	coagent --server nats://localhost:4222
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/casualjim/coagent/agent"
	"github.com/casualjim/coagent/channel"
	"github.com/casualjim/coagent/internal/metrics"
	"github.com/casualjim/coagent/internal/pingpong"
	"github.com/casualjim/coagent/pkg/natsx"
	"github.com/casualjim/coagent/pkg/slogx"
	"github.com/casualjim/coagent/runtime"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	configureLogging(os.Stderr, slog.LevelInfo)
}

func configureLogging(out io.Writer, level slog.Level) {
	output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

// CLI defines the command-line interface.
type CLI struct {
	Server      string        `help:"The runtime server address, http(s):// or nats://." default:"${default_server}" env:"COAGENT_SERVER"`
	Auth        string        `help:"The runtime server authentication token." env:"COAGENT_AUTH"`
	Agents      []string      `help:"Agent types to serve." default:"server,stream_server"`
	StreamDelay time.Duration `name:"stream-delay" help:"Delay before each word of the stream server." default:"600ms"`
	MetricsAddr string        `name:"metrics-addr" help:"Serve Prometheus metrics on this address (empty disables)." env:"COAGENT_METRICS_ADDR"`
	LogLevel    string        `help:"Log level (trace, debug, info, warn, error)." default:"info" env:"COAGENT_LOG_LEVEL"`
}

type agentDef struct {
	name        string
	description string
	factory     agent.Factory
}

func (c *CLI) agentDefs() ([]agentDef, error) {
	var defs []agentDef
	for _, name := range c.Agents {
		switch name {
		case pingpong.ServerName:
			defs = append(defs, agentDef{name, pingpong.ServerDescription, pingpong.NewServer})
		case pingpong.StreamServerName:
			defs = append(defs, agentDef{
				name,
				pingpong.StreamServerDescription,
				pingpong.StreamServerFactory(pingpong.WithDelay(c.StreamDelay)),
			})
		default:
			return nil, fmt.Errorf("unknown agent type: %s", name)
		}
	}
	return defs, nil
}

// openChannel picks the transport from the scheme of the server address.
func (c *CLI) openChannel() (channel.Channel, func(), error) {
	u, err := url.Parse(c.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid server address %q: %w", c.Server, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		ch, err := channel.HTTP(c.Server, channel.WithAuth(c.Auth))
		if err != nil {
			return nil, nil, err
		}
		return ch, func() {}, nil
	case "nats":
		conn, err := natsx.NewClient(c.Server)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to %s: %w", c.Server, err)
		}
		return channel.NATS(conn), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported server: %s", c.Server)
	}
}

func (c *CLI) Run(ctx context.Context) error {
	defs, err := c.agentDefs()
	if err != nil {
		return err
	}
	ch, closeChannel, err := c.openChannel()
	if err != nil {
		return err
	}
	defer closeChannel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt := runtime.New(ch, runtime.WithMetrics(metrics.New(reg)))
	defer rt.Close()

	// lifecycle streams must outlive the group, so they get ctx
	var registrations errgroup.Group
	for _, def := range defs {
		registrations.Go(func() error {
			return rt.Register(ctx, def.name, def.factory, def.description)
		})
	}
	if err := registrations.Wait(); err != nil {
		return err
	}
	slog.Info("runtime started", slog.String("server", c.Server), slog.Any("agents", rt.Registered()))

	g, gctx := errgroup.WithContext(ctx)
	if c.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, c.MetricsAddr, reg)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		return nil
	})
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	switch {
	case lvl <= zerolog.DebugLevel:
		return slog.LevelDebug, nil
	case lvl == zerolog.InfoLevel:
		return slog.LevelInfo, nil
	case lvl == zerolog.WarnLevel:
		return slog.LevelWarn, nil
	default:
		return slog.LevelError, nil
	}
}

func main() {
	cli := CLI{}
	kong.Parse(&cli,
		kong.Name("coagent"),
		kong.Description("Serve the ping-pong agents on a coagent runtime."),
		kong.UsageOnError(),
		kong.Vars{"default_server": channel.DefaultServer},
	)

	level, err := parseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	configureLogging(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx); err != nil {
		slog.Error("coagent failed", slogx.Error(err))
		stop()
		os.Exit(1)
	}
}
