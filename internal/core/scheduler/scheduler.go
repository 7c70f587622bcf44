// Package scheduler ticks many agents. Agents are independent, so one tick
// updates them in parallel on a bounded worker pool; each agent is still
// updated by a single goroutine at a time.
package scheduler

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/goalpipe/internal/core/agent"
	bus "github.com/zeusync/goalpipe/internal/core/events/bus"
	"github.com/zeusync/goalpipe/internal/core/goalpipe"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
	"github.com/zeusync/goalpipe/pkg/sequence"
)

const (
	DefaultInterval = 50 * time.Millisecond
	tracerName      = "github.com/zeusync/goalpipe/scheduler"
)

var (
	ErrDuplicateAgent = errors.New("agent already scheduled")
	ErrUnknownAgent   = errors.New("unknown agent")
)

// Config tunes the tick loop. Workers <= 0 leaves the worker pool
// unbounded.
type Config struct {
	Interval time.Duration
	Workers  int
	MaxPops  int
}

// Scheduler owns a set of agents sharing one pipe manager and event bus.
type Scheduler struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent

	manager *goalpipe.Manager
	events  bus.EventBus
	logger  log.Log
	tracer  trace.Tracer
	cfg     Config

	queueMu sync.Mutex
	queue   *sequence.PriorityQueue[queued]

	ticks atomic.Uint64
}

// Command mutates one agent between ticks, e.g. inserting an interrupt pipe
// in reaction to a game event.
type Command func(a *agent.Agent) error

type queued struct {
	agentID string
	cmd     Command
}

func New(manager *goalpipe.Manager, events bus.EventBus, logger log.Log, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		agents:  make(map[string]*agent.Agent),
		manager: manager,
		events:  events,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		cfg:     cfg,
		queue:   sequence.NewPriorityQueue[queued](),
	}
}

// Spawn creates an agent running pipe and schedules it. An empty pipe name
// leaves the agent idle until a pipe is selected.
func (s *Scheduler) Spawn(opts agent.Options, pipe string) (*agent.Agent, error) {
	if opts.MaxPops == 0 {
		opts.MaxPops = s.cfg.MaxPops
	}
	a := agent.New(s.manager, s.events, s.logger, opts)
	if pipe != "" {
		if err := a.SelectPipe(pipe); err != nil {
			return nil, err
		}
	}
	if err := s.Add(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Scheduler) Add(a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[a.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
	}
	s.agents[a.ID()] = a
	return nil
}

func (s *Scheduler) Get(id string) (*agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return false
	}
	delete(s.agents, id)
	return true
}

// Agents returns the scheduled agents ordered by id.
func (s *Scheduler) Agents() []*agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(s.agents))
	for _, id := range slices.Sorted(maps.Keys(s.agents)) {
		out = append(out, s.agents[id])
	}
	return out
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Queue defers cmd to the start of the next tick, when no agent is being
// updated. It is safe to call from any goroutine.
func (s *Scheduler) Queue(agentID string, cmd Command) {
	s.QueuePriority(agentID, 0, cmd)
}

// QueuePriority is Queue with an ordering hint: higher priorities apply
// first, equal priorities in submission order.
func (s *Scheduler) QueuePriority(agentID string, priority int, cmd Command) {
	s.queueMu.Lock()
	s.queue.Enqueue(queued{agentID: agentID, cmd: cmd}, priority)
	s.queueMu.Unlock()
}

func (s *Scheduler) drain() error {
	s.queueMu.Lock()
	pending := s.queue.Drain()
	s.queueMu.Unlock()

	var all error
	for _, q := range pending {
		a, ok := s.Get(q.agentID)
		if !ok {
			all = errors.Join(all, fmt.Errorf("%w: %s", ErrUnknownAgent, q.agentID))
			continue
		}
		if err := q.cmd(a); err != nil {
			all = errors.Join(all, fmt.Errorf("agent %s: %w", q.agentID, err))
		}
	}
	return all
}

// Tick applies queued commands, then updates every agent once. The first
// agent error cancels the agents not yet started. Command and update errors
// are joined.
func (s *Scheduler) Tick(ctx context.Context) error {
	cmdErr := s.drain()
	agents := s.Agents()
	ctx, span := s.tracer.Start(ctx, "scheduler.tick", trace.WithAttributes(
		attribute.Int("agents", len(agents)),
		attribute.Int64("tick", int64(s.ticks.Load())+1),
	))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Workers > 0 {
		g.SetLimit(s.cfg.Workers)
	}
	for _, a := range agents {
		g.Go(func() error {
			return s.update(gctx, a)
		})
	}
	err := errors.Join(cmdErr, g.Wait())
	s.ticks.Add(1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Scheduler) update(ctx context.Context, a *agent.Agent) error {
	ctx, span := s.tracer.Start(ctx, "agent.update", trace.WithAttributes(
		attribute.String("agent.id", a.ID()),
	))
	defer span.End()
	if p := a.Pipe(); p != nil {
		span.SetAttributes(attribute.String("pipe.name", p.Name()))
	}
	if err := a.Update(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("agent %s: %w", a.ID(), err)
	}
	return nil
}

// Run ticks at the configured interval until ctx is done. Tick errors are
// logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("scheduler started",
		log.Int("agents", s.Len()),
		log.Duration("interval", s.cfg.Interval),
		log.Int("workers", s.cfg.Workers),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", log.Uint64("ticks", s.Ticks()))
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler tick failed", log.Error(err))
			}
		}
	}
}

// Snapshot saves every agent into one gob blob keyed by agent id.
func (s *Scheduler) Snapshot() ([]byte, error) {
	states := make(map[string][]byte)
	var all error
	for _, a := range s.Agents() {
		b, err := a.SaveState()
		if err != nil {
			all = errors.Join(all, err)
			continue
		}
		states[a.ID()] = b
	}
	if all != nil {
		return nil, all
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(states); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore loads a Snapshot. Agents missing from the scheduler are created
// with the saved id.
func (s *Scheduler) Restore(data []byte) error {
	var states map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&states); err != nil {
		return fmt.Errorf("decode scheduler snapshot: %w", err)
	}
	var all error
	for _, id := range slices.Sorted(maps.Keys(states)) {
		a, ok := s.Get(id)
		if !ok {
			var err error
			if a, err = s.Spawn(agent.Options{ID: id}, ""); err != nil {
				all = errors.Join(all, err)
				continue
			}
		}
		if err := a.LoadState(states[id]); err != nil {
			all = errors.Join(all, fmt.Errorf("agent %s: %w", id, err))
		}
	}
	return all
}
