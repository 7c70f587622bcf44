package goalpipe

import (
	"maps"
	"slices"

	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// MaxPipeDepth bounds sub-pipe nesting so a pipe referencing itself ends
// instead of recursing forever.
const MaxPipeDepth = 64

// PopResult is the outcome of PopGoal.
type PopResult uint8

const (
	// PopSucceed returns a goal owning an operation to execute.
	PopSucceed PopResult = iota
	// PopAtEnd means the pipe and its sub-pipes are exhausted.
	PopAtEnd
	// PopBreakLoop means an interrupt sub-pipe just finished and the caller
	// must stop popping for this tick.
	PopBreakLoop
)

func (r PopResult) String() string {
	switch r {
	case PopSucceed:
		return "succeed"
	case PopAtEnd:
		return "at_end"
	default:
		return "break_loop"
	}
}

// Registry resolves pipe names to template pipes.
type Registry interface {
	IsGoalPipe(name string) *GoalPipe
}

// GoalPipe is an ordered list of goals plus the state needed to resume it.
// Sub-pipes form a singly linked call stack through sub; Jump,
// ReExecuteGroup and LastResult always address the innermost pipe.
type GoalPipe struct {
	name      string
	dynamic   bool
	template  bool
	signature uint64

	goals  []*Goal
	labels map[string]int
	loop   bool

	cursor     int
	sub        *GoalPipe
	groupCount int
	lastResult goalop.Result

	eventID      uint32
	interrupt    bool
	highPriority bool
	keepOnTop    bool

	registry Registry
	logger   log.Log
}

func newGoalPipe(name string, registry Registry, logger log.Log) *GoalPipe {
	if logger == nil {
		logger = log.Nop()
	}
	return &GoalPipe{
		name:     name,
		labels:   make(map[string]int),
		registry: registry,
		logger:   logger,
	}
}

func (p *GoalPipe) Name() string         { return p.name }
func (p *GoalPipe) IsDynamic() bool      { return p.dynamic }
func (p *GoalPipe) IsTemplate() bool     { return p.template }
func (p *GoalPipe) Signature() uint64    { return p.signature }
func (p *GoalPipe) Len() int             { return len(p.goals) }
func (p *GoalPipe) Goal(i int) *Goal     { return p.goals[i] }
func (p *GoalPipe) Cursor() int          { return p.cursor }
func (p *GoalPipe) SubPipe() *GoalPipe   { return p.sub }
func (p *GoalPipe) Loop() bool           { return p.loop }
func (p *GoalPipe) SetLoop(loop bool)    { p.loop = loop }
func (p *GoalPipe) GroupCount() int      { return p.groupCount }
func (p *GoalPipe) EventID() uint32      { return p.eventID }
func (p *GoalPipe) IsInterrupt() bool    { return p.interrupt }
func (p *GoalPipe) IsHighPriority() bool { return p.highPriority }
func (p *GoalPipe) KeepOnTop() bool      { return p.keepOnTop }

// Label returns the index of the goal following label.
func (p *GoalPipe) Label(label string) (int, bool) {
	idx, ok := p.labels[label]
	return idx, ok
}

// MarkInserted flags the pipe as an explicit interrupt carrying eventID.
// When it finishes, the parent stops popping for the current tick.
func (p *GoalPipe) MarkInserted(eventID uint32, highPriority, keepOnTop bool) {
	p.eventID = eventID
	p.interrupt = true
	p.highPriority = highPriority
	p.keepOnTop = keepOnTop
}

// Clone returns an executable instance sharing nothing mutable with p.
func (p *GoalPipe) Clone() *GoalPipe {
	c := &GoalPipe{
		name:         p.name,
		dynamic:      p.dynamic,
		signature:    p.signature,
		goals:        make([]*Goal, len(p.goals)),
		labels:       maps.Clone(p.labels),
		loop:         p.loop,
		eventID:      p.eventID,
		interrupt:    p.interrupt,
		highPriority: p.highPriority,
		keepOnTop:    p.keepOnTop,
		registry:     p.registry,
		logger:       p.logger,
	}
	for i, g := range p.goals {
		c.goals[i] = g.Clone()
	}
	return c
}

// Innermost returns the deepest active pipe of the sub-pipe chain.
func (p *GoalPipe) Innermost() *GoalPipe {
	top := p
	for top.sub != nil {
		top = top.sub
	}
	return top
}

// Chain lists p and its active sub-pipes, outermost first.
func (p *GoalPipe) Chain() []*GoalPipe {
	var chain []*GoalPipe
	for it := p; it != nil; it = it.sub {
		chain = append(chain, it)
	}
	return chain
}

// Contains reports whether q is p or one of its active sub-pipes.
func (p *GoalPipe) Contains(q *GoalPipe) bool {
	for it := p; it != nil; it = it.sub {
		if it == q {
			return true
		}
	}
	return false
}

// PopGoal returns the next goal to execute, delegating to the active
// sub-pipe first. Pipe references are never returned: they are instantiated
// as the sub-pipe and popped from immediately.
func (p *GoalPipe) PopGoal(user goalop.PipeUser) (*Goal, PopResult) {
	return p.pop(user, 0)
}

func (p *GoalPipe) pop(user goalop.PipeUser, depth int) (*Goal, PopResult) {
	if p.template {
		p.logger.DPanic("template goal pipe popped", log.Pipe(p.name))
		return nil, PopAtEnd
	}
	if depth > MaxPipeDepth {
		p.logger.Error("goal pipe nesting too deep", log.Pipe(p.name), log.Int("depth", depth))
		return nil, PopAtEnd
	}

	if p.sub != nil {
		g, res := p.sub.pop(user, depth+1)
		if res != PopAtEnd {
			return g, res
		}
		interrupt := p.sub.interrupt
		p.dropSub(user)
		if interrupt {
			return nil, PopBreakLoop
		}
	}

	for p.cursor < len(p.goals) {
		g := p.goals[p.cursor]
		p.cursor++
		if g.Grouping == Grouped {
			p.groupCount++
		} else {
			p.groupCount = 0
		}
		if !g.IsPipeRef() {
			return g, PopSucceed
		}

		sub := p.instantiate(g)
		if sub == nil {
			return nil, PopAtEnd
		}
		p.sub = sub
		next, res := sub.pop(user, depth+1)
		if res != PopAtEnd {
			return next, res
		}
		// empty referenced pipe, carry on with our own goals
		p.dropSub(user)
	}
	return nil, PopAtEnd
}

func (p *GoalPipe) instantiate(g *Goal) *GoalPipe {
	var tmpl *GoalPipe
	if p.registry != nil {
		tmpl = p.registry.IsGoalPipe(g.PipeName)
	}
	if tmpl == nil {
		p.logger.Error("unknown goal pipe referenced", log.Pipe(p.name), log.String("ref", g.PipeName))
		return nil
	}
	sub := tmpl.Clone()
	sub.ParseParams(g.Params)
	return sub
}

func (p *GoalPipe) dropSub(user goalop.PipeUser) {
	p.sub.ResetGoalops(user)
	p.sub = nil
}

// PeekPopGoalResult reports what PopGoal would return without changing any
// state.
func (p *GoalPipe) PeekPopGoalResult() PopResult {
	return p.peek(p.cursor, 0)
}

func (p *GoalPipe) peek(from, depth int) PopResult {
	if depth > MaxPipeDepth {
		return PopAtEnd
	}
	if p.sub != nil && from == p.cursor {
		if res := p.sub.peek(p.sub.cursor, depth+1); res != PopAtEnd {
			return res
		}
		if p.sub.interrupt {
			return PopBreakLoop
		}
	}
	for i := from; i < len(p.goals); i++ {
		g := p.goals[i]
		if !g.IsPipeRef() {
			return PopSucceed
		}
		var tmpl *GoalPipe
		if p.registry != nil {
			tmpl = p.registry.IsGoalPipe(g.PipeName)
		}
		if tmpl == nil {
			return PopAtEnd
		}
		if res := tmpl.peek(0, depth+1); res != PopAtEnd {
			return res
		}
	}
	return PopAtEnd
}

// Jump moves the innermost pipe's cursor by offset, clamping at the start.
// A cursor past the end is left for the next pop to report AtEnd. It
// reports whether the jump went backwards.
func (p *GoalPipe) Jump(offset int) bool {
	top := p.Innermost()
	top.cursor = max(top.cursor+offset, 0)
	return offset < 0
}

// JumpLabel jumps the innermost pipe to a label resolved at call time.
// Unknown labels are a logged no-op.
func (p *GoalPipe) JumpLabel(label string) bool {
	top := p.Innermost()
	idx, ok := top.labels[label]
	if !ok {
		p.logger.Warn("unknown goal pipe label", log.Pipe(top.name), log.String("label", label))
		return false
	}
	return top.Jump(idx - top.cursor)
}

// ReExecuteGroup rewinds the innermost pipe to the start of the group the
// last popped goal belongs to, or to that goal itself when it is ungrouped.
func (p *GoalPipe) ReExecuteGroup() {
	top := p.Innermost()
	pos := top.cursor - 1
	if pos < 0 || pos >= len(top.goals) {
		return
	}
	switch top.goals[pos].Grouping {
	case Grouped:
		for pos > 0 && top.goals[pos-1].Grouping == Grouped {
			pos--
		}
	case GroupWithPrevious:
		for pos > 0 && top.goals[pos].Grouping == GroupWithPrevious {
			pos--
		}
	}
	top.cursor = pos
	top.groupCount = 0
}

// LastResult is the result of the last goal of this pipe that finished.
func (p *GoalPipe) LastResult() goalop.Result     { return p.lastResult }
func (p *GoalPipe) SetLastResult(r goalop.Result) { p.lastResult = r }

// InsertSubPipe links q into the chain just above the first keep-on-top
// sub-pipe, so keep-on-top pipes stay innermost and keep running first.
func (p *GoalPipe) InsertSubPipe(q *GoalPipe) {
	at := p
	for at.sub != nil && !at.sub.keepOnTop {
		at = at.sub
	}
	q.Innermost().sub = at.sub
	at.sub = q
}

// RemoveSubpipe removes the sub-pipe carrying id, or the innermost sub-pipe
// when id is 0. keepInserted splices out only the match and keeps what was
// pushed after it. keepHigherPriority keeps high priority pipes nested under
// the match. Every removed pipe has its operations reset once. It returns
// the event id of the removed pipe.
func (p *GoalPipe) RemoveSubpipe(user goalop.PipeUser, id uint32, keepInserted, keepHigherPriority bool) (uint32, bool) {
	parent := p
	for parent.sub != nil {
		if (id == 0 && parent.sub.sub == nil) || (id != 0 && parent.sub.eventID == id) {
			break
		}
		parent = parent.sub
	}
	target := parent.sub
	if target == nil {
		return 0, false
	}

	below := target.sub
	target.sub = nil
	target.resetOwn(user)

	if keepInserted {
		parent.sub = below
		return target.eventID, true
	}

	parent.sub = nil
	at := parent
	for it := below; it != nil; {
		next := it.sub
		it.sub = nil
		if keepHigherPriority && it.highPriority {
			at.sub = it
			at = it
		} else {
			it.resetOwn(user)
		}
		it = next
	}
	return target.eventID, true
}

// Reset rewinds the pipe to its initial state, resetting every operation of
// the pipe and its sub-pipes.
func (p *GoalPipe) Reset(user goalop.PipeUser) {
	p.ResetGoalops(user)
	p.sub = nil
	p.cursor = 0
	p.groupCount = 0
	p.lastResult = goalop.None
}

// ResetGoalops calls Reset on every owned operation, recursively through the
// sub-pipe chain.
func (p *GoalPipe) ResetGoalops(user goalop.PipeUser) {
	for it := p; it != nil; it = it.sub {
		it.resetOwn(user)
	}
}

func (p *GoalPipe) resetOwn(user goalop.PipeUser) {
	for _, g := range p.goals {
		if g.Operation != nil {
			g.Operation.Reset(user)
		}
	}
}

// ParseParams pushes every parameter into the operations of the pipe and
// of its current sub-pipes.
func (p *GoalPipe) ParseParams(params goalop.Params) {
	for _, key := range slices.Sorted(maps.Keys(params)) {
		p.ParseParam(key, params[key])
	}
}

// ParseParam reports whether any operation accepted the parameter.
func (p *GoalPipe) ParseParam(name string, value any) bool {
	accepted := false
	for it := p; it != nil; it = it.sub {
		for _, g := range it.goals {
			if pp, ok := g.Operation.(goalop.ParamParser); ok && pp.ParseParam(name, value) {
				accepted = true
			}
		}
	}
	return accepted
}
