package app

import (
	"fmt"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/zeusync/goalpipe/internal/core/archive"
	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/goalops"
)

// Operation ids of the built-in game operations.
const (
	OpIdle goalop.ID = goalop.FirstUserID + iota
	OpIncrement
)

// RegisterBuiltins installs the small set of game operations the standalone
// runner ships with, so definition files are runnable without a host game.
func RegisterBuiltins(reg *goalop.Registry, trees *goalops.TreeFactory) error {
	if err := reg.Register("idle", OpIdle, []string{"ticks"}, newIdle); err != nil {
		return err
	}
	if err := reg.Register("increment", OpIncrement, []string{"key"}, newIncrement); err != nil {
		return err
	}
	trees.Register("wander", wanderTree)
	return nil
}

// idle stays in progress for a number of ticks.
type idle struct {
	ticks int
	left  int
}

func newIdle(params goalop.Params) (goalop.Operation, error) {
	ticks := 1
	if v, ok := params.Int("ticks"); ok {
		ticks = v
	}
	if ticks < 0 {
		return nil, fmt.Errorf("idle: negative ticks %d", ticks)
	}
	return goalop.NewEnterLeaveUpdate(&idle{ticks: ticks}), nil
}

func (o *idle) Enter(goalop.PipeUser) { o.left = o.ticks }

func (o *idle) Update(goalop.PipeUser) goalop.Result {
	if o.left <= 0 {
		return goalop.Succeeded
	}
	o.left--
	return goalop.InProgress
}

func (o *idle) Leave(goalop.PipeUser) { o.left = 0 }

func (o *idle) Clone() goalop.Phases { c := *o; return &c }

func (o *idle) ParseParam(name string, value any) bool {
	if name != "ticks" {
		return false
	}
	n, ok := goalop.Params{name: value}.Int(name)
	if ok && n >= 0 {
		o.ticks = n
	}
	return ok
}

func (o *idle) Serialize(ar archive.Archive) error {
	return ar.Value("left", &o.left)
}

// increment adds one to an integer blackboard entry and succeeds at once.
type increment struct {
	key string
}

func newIncrement(params goalop.Params) (goalop.Operation, error) {
	key, ok := params.String("key")
	if !ok || key == "" {
		return nil, fmt.Errorf("increment: key is required")
	}
	return goalop.NewEnterLeaveUpdate(&increment{key: key}), nil
}

func (o *increment) Enter(goalop.PipeUser) {}

func (o *increment) Update(user goalop.PipeUser) goalop.Result {
	bb := user.Blackboard()
	n := 0
	if v, ok := bb.Get(o.key); ok {
		n, ok = goalop.Params{o.key: v}.Int(o.key)
		if !ok {
			return goalop.Failed
		}
	}
	bb.Set(o.key, n+1)
	return goalop.Succeeded
}

func (o *increment) Leave(goalop.PipeUser) {}

func (o *increment) Clone() goalop.Phases { return &increment{key: o.key} }

// wanderTree takes two steps, one per tick, and succeeds on the tick after
// the last one. Steps are counted on the blackboard under "steps".
func wanderTree(user goalop.PipeUser) bt.Node {
	taken := 0
	step := func(i int) bt.Node {
		return bt.New(func([]bt.Node) (bt.Status, error) {
			if taken > i {
				return bt.Success, nil
			}
			taken++
			n := 0
			if v, ok := user.Blackboard().Get("steps"); ok {
				n, _ = v.(int)
			}
			user.Blackboard().Set("steps", n+1)
			return bt.Running, nil
		})
	}
	return bt.New(bt.Sequence, step(0), step(1))
}
