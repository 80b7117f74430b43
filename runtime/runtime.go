// Package runtime registers agent factories with a coordinator and wires
// the agents it creates to their message streams.
//
// For every registered name the runtime keeps a lifecycle subscription. An
// AgentCreated notification builds an agent from the name's factory and
// subscribes it to its address; an AgentDeleted notification cancels that
// subscription and drops the agent.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/casualjim/coagent/agent"
	"github.com/casualjim/coagent/channel"
	"github.com/casualjim/coagent/envelope"
	"github.com/casualjim/coagent/internal/metrics"
	"github.com/casualjim/coagent/internal/registry"
	"github.com/casualjim/coagent/pkg/slogx"
	"github.com/fogfish/opts"
)

type registration struct {
	name        string
	description string
	factory     agent.Factory
}

type instance struct {
	agent *agent.Agent
	sub   channel.Subscription
}

// Runtime hosts the agents created for its registered names.
type Runtime struct {
	channel    channel.Channel
	factories  registry.Registry[registration]
	lifecycles registry.Registry[channel.Subscription]
	// mu orders insertions and removals of live agents
	mu         sync.Mutex
	agents     registry.Registry[*instance]
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

var (
	// WithLogger sets the parent logger; the runtime logs as "runtime".
	WithLogger = opts.ForName[Runtime, *slog.Logger]("logger")
	// WithMetrics replaces the unregistered collectors New starts with.
	WithMetrics = opts.ForName[Runtime, *metrics.Metrics]("metrics")
)

// New returns a runtime that talks to the coordinator through ch.
func New(ch channel.Channel, options ...opts.Option[Runtime]) *Runtime {
	r := &Runtime{
		channel:    ch,
		factories:  registry.New[registration](),
		lifecycles: registry.New[channel.Subscription](),
		agents:     registry.New[*instance](),
	}
	if err := opts.Apply(r, options); err != nil {
		panic(err)
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	r.logger = slogx.Named(r.logger, "runtime")
	return r
}

// Register records factory under name and opens the lifecycle stream for
// it. The stream lives until ctx is done or Close is called. A name can be
// registered once; later attempts fail with *DuplicateRegistrationError and
// leave the first factory in place. If the stream cannot be opened the
// registration is undone and the transport error returned.
func (r *Runtime) Register(ctx context.Context, name string, factory agent.Factory, description string) error {
	if name == "" {
		return errors.New("agent name is required")
	}
	if factory == nil {
		return fmt.Errorf("agent %s: factory is required", name)
	}
	if !r.factories.AddIfAbsent(name, registration{name: name, description: description, factory: factory}) {
		return &DuplicateRegistrationError{Name: name}
	}

	sub, err := r.channel.Register(ctx, name, description, r.Dispatch)
	if err != nil {
		r.factories.Del(name)
		return fmt.Errorf("failed to register agent %s: %w", name, err)
	}
	r.lifecycles.Add(name, sub)
	r.logger.Info("registered agent", slog.String("name", name), slog.String("description", description))
	return nil
}

// Dispatch handles one lifecycle notification.
func (r *Runtime) Dispatch(ctx context.Context, env envelope.Envelope) error {
	lc, err := envelope.DecodeLifecycle(env)
	if err != nil {
		r.metrics.LifecycleEvents.WithLabelValues("", string(env.Kind())).Inc()
		return fmt.Errorf("invalid lifecycle event: %w", err)
	}

	switch ev := lc.(type) {
	case envelope.AgentCreated:
		r.metrics.LifecycleEvents.WithLabelValues(ev.Addr.Name, string(env.Kind())).Inc()
		return r.createAgent(ctx, ev.Addr)
	case envelope.AgentDeleted:
		r.metrics.LifecycleEvents.WithLabelValues(ev.Addr.Name, string(env.Kind())).Inc()
		return r.deleteAgent(ev.Addr)
	case envelope.UnknownLifecycle:
		r.metrics.LifecycleEvents.WithLabelValues("", string(ev.Type)).Inc()
		return &UnknownLifecycleEventError{Type: ev.Type}
	default:
		return fmt.Errorf("unhandled lifecycle variant %T", lc)
	}
}

func (r *Runtime) createAgent(ctx context.Context, addr envelope.Address) error {
	reg, ok := r.factories.Get(addr.Name)
	if !ok {
		return fmt.Errorf("%w for agent %s", ErrUnknownFactory, addr)
	}
	key := addr.Topic()
	if _, exists := r.agents.Get(key); exists {
		r.logger.Debug("agent already exists", slog.Any("addr", addr))
		return nil
	}

	r.logger.Info("creating agent", slog.Any("addr", addr))
	a, err := reg.factory(r.channel, addr)
	if err != nil {
		return fmt.Errorf("failed to create agent %s: %w", addr, err)
	}
	if a == nil {
		return fmt.Errorf("failed to create agent %s: factory returned no agent", addr)
	}

	sub, err := r.channel.Subscribe(ctx, addr, r.receiver(a))
	if err != nil {
		closeAgent(r.logger, a)
		return fmt.Errorf("failed to subscribe agent %s: %w", addr, err)
	}

	inst := &instance{agent: a, sub: sub}
	r.mu.Lock()
	added := r.agents.AddIfAbsent(key, inst)
	r.mu.Unlock()
	if !added {
		sub.Unsubscribe()
		closeAgent(r.logger, a)
		return nil
	}
	r.metrics.ActiveAgents.WithLabelValues(addr.Name).Inc()

	go r.forgetWhenDone(key, inst)
	return nil
}

// forgetWhenDone drops an agent whose stream ended without an AgentDeleted.
func (r *Runtime) forgetWhenDone(key string, inst *instance) {
	<-inst.sub.Done()
	if !r.remove(key, inst) {
		return
	}
	r.metrics.ActiveAgents.WithLabelValues(inst.agent.Address().Name).Dec()
	r.logger.Info("agent stream ended", slog.Any("addr", inst.agent.Address()))
	closeAgent(r.logger, inst.agent)
}

// remove deletes key only while it still maps to inst.
func (r *Runtime) remove(key string, inst *instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.agents.Get(key)
	if !ok || current != inst {
		return false
	}
	r.agents.Del(key)
	return true
}

// take deletes and returns whatever key maps to.
func (r *Runtime) take(key string) (*instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents.Take(key)
}

func (r *Runtime) deleteAgent(addr envelope.Address) error {
	inst, ok := r.take(addr.Topic())
	if !ok {
		r.logger.Debug("agent to delete not found", slog.Any("addr", addr))
		return nil
	}
	inst.sub.Unsubscribe()
	r.metrics.ActiveAgents.WithLabelValues(addr.Name).Dec()
	r.logger.Info("deleted agent", slog.Any("addr", addr))

	if err := inst.agent.Close(); err != nil {
		return fmt.Errorf("failed to close agent %s: %w", addr, err)
	}
	return nil
}

func (r *Runtime) receiver(a *agent.Agent) channel.Handler {
	name := a.Address().Name
	return func(ctx context.Context, env envelope.Envelope) error {
		r.metrics.Received.WithLabelValues(name).Inc()
		if err := a.Receive(ctx, env); err != nil {
			r.metrics.Failures.WithLabelValues(name).Inc()
			return err
		}
		return nil
	}
}

// Registered returns the registered agent names in order.
func (r *Runtime) Registered() []string {
	var names []string
	r.factories.Each(func(name string, _ registration) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// Description returns the description name was registered with.
func (r *Runtime) Description(name string) (string, bool) {
	reg, ok := r.factories.Get(name)
	return reg.description, ok
}

// Agents returns the addresses of the live agents, ordered by topic.
func (r *Runtime) Agents() []envelope.Address {
	var addrs []envelope.Address
	r.agents.Each(func(_ string, inst *instance) bool {
		addrs = append(addrs, inst.agent.Address())
		return true
	})
	slices.SortFunc(addrs, func(a, b envelope.Address) int {
		return strings.Compare(a.Topic(), b.Topic())
	})
	return addrs
}

// Agent returns the live agent bound to addr.
func (r *Runtime) Agent(addr envelope.Address) (*agent.Agent, bool) {
	inst, ok := r.agents.Get(addr.Topic())
	if !ok {
		return nil, false
	}
	return inst.agent, true
}

// Close cancels every lifecycle and agent subscription and waits until they
// stopped delivering, so replies in flight are finished. Registered factories
// are kept.
func (r *Runtime) Close() error {
	var names []string
	r.lifecycles.Each(func(name string, _ channel.Subscription) bool {
		names = append(names, name)
		return true
	})
	var stopped []channel.Subscription
	for _, name := range names {
		if sub, ok := r.lifecycles.Take(name); ok {
			sub.Unsubscribe()
			stopped = append(stopped, sub)
		}
	}

	var keys []string
	r.agents.Each(func(key string, _ *instance) bool {
		keys = append(keys, key)
		return true
	})
	var closing []*instance
	for _, key := range keys {
		inst, ok := r.take(key)
		if !ok {
			continue
		}
		inst.sub.Unsubscribe()
		stopped = append(stopped, inst.sub)
		closing = append(closing, inst)
		r.metrics.ActiveAgents.WithLabelValues(inst.agent.Address().Name).Dec()
	}

	for _, sub := range stopped {
		<-sub.Done()
	}

	var errs []error
	for _, inst := range closing {
		if err := inst.agent.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeAgent(logger *slog.Logger, a *agent.Agent) {
	if err := a.Close(); err != nil {
		logger.Error("failed to close agent", slogx.Error(err), slog.Any("addr", a.Address()))
	}
}
