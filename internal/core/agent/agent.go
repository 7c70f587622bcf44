// Package agent runs goal pipes for one character. An Agent is the
// goalop.PipeUser handed to every operation: it owns the root pipe, the
// goals still in flight and the blackboard operations share.
package agent

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/goalpipe/internal/core/blackboard"
	bus "github.com/zeusync/goalpipe/internal/core/events/bus"
	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/goalpipe"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// DefaultMaxPops bounds the goals popped in one tick.
const DefaultMaxPops = 64

var (
	ErrNoActivePipe = errors.New("agent has no active goal pipe")
	ErrNoManager    = errors.New("agent has no pipe manager")
)

var _ goalop.PipeUser = (*Agent)(nil)

// Options configure a new Agent. Zero values pick defaults.
type Options struct {
	// ID defaults to a random UUID.
	ID         string
	Blackboard blackboard.Blackboard
	Clock      func() time.Time
	MaxPops    int
}

// InsertOptions describe a sub-pipe pushed on top of the running chain.
type InsertOptions struct {
	// EventID identifies the insertion for RemoveSubPipe. Zero allocates
	// the next id of the agent.
	EventID      uint32
	HighPriority bool
	KeepOnTop    bool
}

// Agent drives the pipe chain of one character. It is not safe for
// concurrent use; the scheduler ticks every agent from one goroutine at a
// time.
type Agent struct {
	id      string
	manager *goalpipe.Manager
	events  bus.EventBus
	logger  log.Log
	bb      blackboard.Blackboard
	clock   func() time.Time
	maxPops int

	root    *goalpipe.GoalPipe
	active  []goalpipe.ActiveGoal
	current *goalpipe.Goal
	dryRun  bool
	// finished is read by stats collectors while the agent ticks.
	finished atomic.Bool

	jumpedBack  bool
	nextEventID uint32
	ticks       uint64
}

// New builds an agent resolving pipes through manager. events may be nil.
func New(manager *goalpipe.Manager, events bus.EventBus, logger log.Log, opts Options) *Agent {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Blackboard == nil {
		opts.Blackboard = blackboard.New(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxPops <= 0 {
		opts.MaxPops = DefaultMaxPops
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Agent{
		id:          opts.ID,
		manager:     manager,
		events:      events,
		logger:      logger.With(log.Agent(opts.ID)),
		bb:          opts.Blackboard,
		clock:       opts.Clock,
		maxPops:     opts.MaxPops,
		nextEventID: 1,
	}
}

func (a *Agent) ID() string                        { return a.id }
func (a *Agent) Blackboard() blackboard.Blackboard { return a.bb }
func (a *Agent) Now() time.Time                    { return a.clock() }
func (a *Agent) Logger() log.Log                   { return a.logger }

// Pipe returns the root pipe instance, or nil.
func (a *Agent) Pipe() *goalpipe.GoalPipe { return a.root }

// Finished reports whether a non-looping root pipe ran out of goals.
func (a *Agent) Finished() bool { return a.finished.Load() }
func (a *Agent) Ticks() uint64  { return a.ticks }

// SetDryRun freezes the agent: ticks only call ExecuteDry on the goals in
// flight and never pop.
func (a *Agent) SetDryRun(dry bool) { a.dryRun = dry }
func (a *Agent) DryRun() bool       { return a.dryRun }

// Active returns the goals still executing, in start order.
func (a *Agent) Active() []goalpipe.ActiveGoal { return slices.Clone(a.active) }

// Jump moves the innermost pipe. A backward jump ends the current tick so a
// loop built from labels cannot spin forever inside one update.
func (a *Agent) Jump(offset int) bool {
	if a.root == nil {
		return false
	}
	back := a.root.Jump(offset)
	if back {
		a.jumpedBack = true
	}
	return back
}

func (a *Agent) ReExecuteGroup() {
	if a.root != nil {
		a.root.ReExecuteGroup()
	}
}

// LastResult is the last terminal result recorded by the innermost pipe.
func (a *Agent) LastResult() goalop.Result {
	if a.root == nil {
		return goalop.None
	}
	return a.root.Innermost().LastResult()
}

// PendingGoals counts the goals in flight other than the one executing.
func (a *Agent) PendingGoals() int {
	n := len(a.active)
	if a.current != nil && a.isActive(a.current) {
		n--
	}
	return n
}

// SelectPipe replaces the root pipe with a fresh instance of name. The old
// chain is reset.
func (a *Agent) SelectPipe(name string) error {
	if a.manager == nil {
		return ErrNoManager
	}
	p, ok := a.manager.Instantiate(name)
	if !ok {
		err := fmt.Errorf("%w: %s", goalpipe.ErrUnknownPipe, name)
		a.contentError(name, err)
		return err
	}
	a.setRoot(p)
	a.publish(bus.NewEvent(bus.PipeSelected, a.id, name))
	return nil
}

// SelectDynamicPipe runs a pipe built with Manager.CreateDynamicPipe as the
// root pipe.
func (a *Agent) SelectDynamicPipe(p *goalpipe.GoalPipe) {
	a.setRoot(p)
	a.publish(bus.NewEvent(bus.PipeSelected, a.id, p.Name()))
}

func (a *Agent) setRoot(p *goalpipe.GoalPipe) {
	if a.root != nil {
		a.root.Reset(a)
	}
	a.root = p
	a.active = nil
	a.finished.Store(false)
}

// InsertSubPipe pushes a fresh instance of name as an interrupt on top of
// the running chain and returns its event id.
func (a *Agent) InsertSubPipe(name string, opts InsertOptions) (uint32, error) {
	if a.manager == nil {
		return 0, ErrNoManager
	}
	p, ok := a.manager.Instantiate(name)
	if !ok {
		err := fmt.Errorf("%w: %s", goalpipe.ErrUnknownPipe, name)
		a.contentError(name, err)
		return 0, err
	}
	return a.InsertPipe(p, opts)
}

// InsertPipe is InsertSubPipe for an already built, possibly dynamic, pipe.
func (a *Agent) InsertPipe(p *goalpipe.GoalPipe, opts InsertOptions) (uint32, error) {
	if a.root == nil {
		return 0, ErrNoActivePipe
	}
	id := opts.EventID
	if id == 0 {
		id = a.nextEventID
		a.nextEventID++
	} else if id >= a.nextEventID {
		a.nextEventID = id + 1
	}
	p.MarkInserted(id, opts.HighPriority, opts.KeepOnTop)
	a.root.InsertSubPipe(p)
	a.finished.Store(false)
	a.publish(bus.NewEvent(bus.PipeInserted, a.id, p.Name()).WithEventID(id))
	return id, nil
}

// RemoveSubPipe removes an inserted sub-pipe by event id, or the innermost
// one when id is 0. Goals in flight in removed pipes are dropped.
func (a *Agent) RemoveSubPipe(id uint32, keepInserted, keepHigherPriority bool) bool {
	if a.root == nil {
		return false
	}
	var name string
	for _, p := range a.root.Chain()[1:] {
		if (id == 0 && p.SubPipe() == nil) || (id != 0 && p.EventID() == id) {
			name = p.Name()
			break
		}
	}
	removed, ok := a.root.RemoveSubpipe(a, id, keepInserted, keepHigherPriority)
	if !ok {
		return false
	}
	a.prune()
	a.publish(bus.NewEvent(bus.PipeRemoved, a.id, name).WithEventID(removed))
	return true
}

func (a *Agent) isActive(g *goalpipe.Goal) bool {
	return slices.ContainsFunc(a.active, func(ag goalpipe.ActiveGoal) bool { return ag.Goal == g })
}

// prune drops goals whose pipe left the chain. Their operations were reset
// when the pipe was dropped.
func (a *Agent) prune() {
	a.active = slices.DeleteFunc(a.active, func(ag goalpipe.ActiveGoal) bool {
		return a.root == nil || !a.root.Contains(ag.Pipe)
	})
}

func (a *Agent) publish(e bus.Event) {
	if a.events == nil {
		return
	}
	if err := a.events.Publish(e); err != nil {
		a.logger.Warn("goal pipe event handler failed", log.String("event", string(e.Type)), log.Error(err))
	}
}

func (a *Agent) contentError(pipe string, err error) {
	a.logger.Warn("goal pipe content error", log.Pipe(pipe), log.Error(err))
	a.publish(bus.NewEvent(bus.ContentError, a.id, pipe).WithError(err))
}
