package agent

import (
	"context"
	"slices"

	bus "github.com/zeusync/goalpipe/internal/core/events/bus"
	"github.com/zeusync/goalpipe/internal/core/goalpipe"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// Update runs one tick: goals already in flight execute first, then new
// goals are popped until a blocking goal is still running, the pipe ends,
// an interrupt completes or the pop budget is spent.
func (a *Agent) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.root == nil {
		return nil
	}
	a.ticks++
	a.jumpedBack = false

	if a.dryRun {
		for _, ag := range a.active {
			ag.Goal.Operation.ExecuteDry(a)
		}
		return nil
	}

	for _, ag := range slices.Clone(a.active) {
		if !a.isActive(ag.Goal) || !a.runnable(ag) {
			continue
		}
		a.execute(ag)
		if a.jumpedBack {
			return nil
		}
	}

	looped := false
	for pops := 0; ; pops++ {
		if a.blocked() || a.jumpedBack {
			return nil
		}
		if pops >= a.maxPops {
			a.logger.Warn("goal pipe pop budget exhausted", log.Pipe(a.root.Name()), log.Int("pops", pops))
			a.publish(bus.NewEvent(bus.ContentError, a.id, a.root.Name()))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		g, res := a.root.PopGoal(a)
		a.prune()
		switch res {
		case goalpipe.PopBreakLoop:
			a.publish(bus.NewEvent(bus.PipeInterrupted, a.id, a.root.Name()))
			return nil
		case goalpipe.PopAtEnd:
			if !a.exhausted() {
				// a broken reference was skipped, the rest runs next tick
				a.publish(bus.NewEvent(bus.ContentError, a.id, a.root.Name()))
				return nil
			}
			if len(a.active) > 0 {
				return nil
			}
			if !a.root.Loop() {
				if a.finished.CompareAndSwap(false, true) {
					a.publish(bus.NewEvent(bus.PipeFinished, a.id, a.root.Name()))
				}
				return nil
			}
			if looped {
				return nil
			}
			looped = true
			a.root.Reset(a)
			a.publish(bus.NewEvent(bus.PipeLooped, a.id, a.root.Name()))
		case goalpipe.PopSucceed:
			a.start(g)
		}
	}
}

// exhausted reports whether the whole chain reached its end.
func (a *Agent) exhausted() bool {
	return a.root.SubPipe() == nil && a.root.Cursor() >= a.root.Len()
}

// blocked reports whether a runnable blocking goal is still in flight.
func (a *Agent) blocked() bool {
	return slices.ContainsFunc(a.active, func(ag goalpipe.ActiveGoal) bool {
		return ag.Goal.Blocking && a.runnable(ag)
	})
}

// runnable reports whether the goal's pipe is at or inside the innermost
// interrupt. Goals of interrupted pipes are suspended until the interrupt
// completes or is removed.
func (a *Agent) runnable(ag goalpipe.ActiveGoal) bool {
	chain := a.root.Chain()
	frontier := 0
	for i, p := range chain {
		if p.IsInterrupt() {
			frontier = i
		}
	}
	return slices.Index(chain, ag.Pipe) >= frontier
}

// start registers a freshly popped goal and runs it once. A goal popped
// again while still in flight, after a group rewind, restarts from scratch.
func (a *Agent) start(g *goalpipe.Goal) {
	if i := slices.IndexFunc(a.active, func(ag goalpipe.ActiveGoal) bool { return ag.Goal == g }); i >= 0 {
		g.Operation.Reset(a)
		a.active = slices.Delete(a.active, i, i+1)
	}
	ag := goalpipe.ActiveGoal{Goal: g, Pipe: a.owner(g)}
	a.active = append(a.active, ag)
	a.execute(ag)
}

// execute runs the goal once and retires it on a terminal result.
func (a *Agent) execute(ag goalpipe.ActiveGoal) {
	a.current = ag.Goal
	res := ag.Goal.Operation.Execute(a)
	a.current = nil
	if !res.Terminal() {
		return
	}
	ag.Pipe.SetLastResult(res)
	ag.Goal.Operation.Reset(a)
	a.active = slices.DeleteFunc(a.active, func(o goalpipe.ActiveGoal) bool { return o.Goal == ag.Goal })
}

// owner finds the pipe that just popped g: the innermost pipe whose
// previous goal is g.
func (a *Agent) owner(g *goalpipe.Goal) *goalpipe.GoalPipe {
	chain := a.root.Chain()
	for i := len(chain) - 1; i >= 0; i-- {
		p := chain[i]
		if c := p.Cursor(); c > 0 && p.Goal(c-1) == g {
			return p
		}
	}
	return a.root.Innermost()
}
