package goalops

import (
	"sync"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// TreeBuilder returns a fresh behavior tree for one activation of a tree goal.
type TreeBuilder func(user goalop.PipeUser) bt.Node

// tree ticks a behavior tree once per Update until it stops running.
type tree struct {
	name  string
	build TreeBuilder
	root  bt.Node
}

func (t *tree) Enter(user goalop.PipeUser) { t.root = t.build(user) }

func (t *tree) Update(user goalop.PipeUser) goalop.Result {
	if t.root == nil {
		return goalop.Failed
	}
	status, err := t.root.Tick()
	if err != nil {
		user.Logger().Warn("behavior tree tick failed", log.String("tree", t.name), log.Error(err))
		return goalop.Failed
	}
	switch status {
	case bt.Success:
		return goalop.Succeeded
	case bt.Failure:
		return goalop.Failed
	default:
		return goalop.InProgress
	}
}

func (t *tree) Leave(goalop.PipeUser) { t.root = nil }

func (t *tree) Clone() goalop.Phases {
	return &tree{name: t.name, build: t.build}
}

var _ goalop.Factory = (*TreeFactory)(nil)

// TreeFactory is a game-side factory exposing named behavior trees as goal
// operations. A tree is reachable by its own name or as `tree <name>`.
type TreeFactory struct {
	mu    sync.RWMutex
	trees map[string]TreeBuilder
}

func NewTreeFactory() *TreeFactory {
	return &TreeFactory{trees: make(map[string]TreeBuilder)}
}

func (f *TreeFactory) Register(name string, build TreeBuilder) {
	f.mu.Lock()
	f.trees[name] = build
	f.mu.Unlock()
}

func (f *TreeFactory) GetGoalOpByName(name string, src goalop.Source, start int, out *goalop.Params) goalop.Operation {
	if name != goalop.OpTree.String() {
		return f.newTree(name)
	}
	var base goalop.Params
	if out != nil {
		base = *out
	}
	params := goalop.BindArgs([]string{"tree"}, src, start, base)
	if out != nil {
		*out = params
	}
	return f.GetGoalOp(goalop.OpTree, params)
}

func (f *TreeFactory) GetGoalOp(id goalop.ID, params goalop.Params) goalop.Operation {
	if id != goalop.OpTree {
		return nil
	}
	name, _ := params.String("tree")
	return f.newTree(name)
}

func (f *TreeFactory) newTree(name string) goalop.Operation {
	f.mu.RLock()
	build := f.trees[name]
	f.mu.RUnlock()
	if build == nil {
		return nil
	}
	return goalop.NewEnterLeaveUpdate(&tree{name: name, build: build})
}
