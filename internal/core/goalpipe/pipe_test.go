package goalpipe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/goalop/goaloptest"
	"github.com/zeusync/goalpipe/internal/core/goalops"
	"github.com/zeusync/goalpipe/internal/core/goalpipe"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

var testOps = map[string]goalop.ID{
	"opA": goalop.FirstUserID, "opB": goalop.FirstUserID + 1, "opC": goalop.FirstUserID + 2,
	"opD": goalop.FirstUserID + 3, "opE": goalop.FirstUserID + 4,
}

func newManager(t *testing.T) (*goalpipe.Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := log.NewFromZap(zap.New(core))
	ordering := goalop.NewOrdering(&goaloptest.Factory{Known: testOps})
	return goalpipe.NewManager(ordering, goalops.NewFactory(logger), logger), logs
}

// register builds a template from a compact list: "opX" for operations,
// "@name" for pipe references.
func register(t *testing.T, m *goalpipe.Manager, name string, goals ...string) {
	t.Helper()
	b := m.CreateGoalPipe(name)
	for _, g := range goals {
		if g[0] == '@' {
			b.PushPipe(g[1:], true, goalpipe.NoGroup, nil)
			continue
		}
		b.PushGoalByName(g, true, goalpipe.NoGroup, nil, nil)
	}
	require.NoError(t, b.Register())
}

func instance(t *testing.T, m *goalpipe.Manager, name string) *goalpipe.GoalPipe {
	t.Helper()
	p, ok := m.Instantiate(name)
	require.True(t, ok, "pipe %s not registered", name)
	return p
}

func popName(t *testing.T, p *goalpipe.GoalPipe, user goalop.PipeUser) string {
	t.Helper()
	g, res := p.PopGoal(user)
	require.Equal(t, goalpipe.PopSucceed, res)
	require.NotNil(t, g)
	require.False(t, g.IsPipeRef(), "pipe references are never returned")
	return g.Name
}

func popAll(t *testing.T, p *goalpipe.GoalPipe, user goalop.PipeUser) []string {
	t.Helper()
	var out []string
	for i := 0; i < 100; i++ {
		g, res := p.PopGoal(user)
		if res != goalpipe.PopSucceed {
			require.Equal(t, goalpipe.PopAtEnd, res)
			return out
		}
		out = append(out, g.Name)
	}
	t.Fatalf("pipe %s never ended", p.Name())
	return nil
}

func TestPopInInsertionOrder(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA", "opB", "opC", "opD")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	assert.Equal(t, []string{"opA", "opB", "opC", "opD"}, popAll(t, p, user))

	_, res := p.PopGoal(user)
	assert.Equal(t, goalpipe.PopAtEnd, res, "exhausted pipes stay exhausted")
}

func TestClonesAreIsolated(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA", "opB")
	user := goaloptest.NewUser("npc")

	first, second := instance(t, m, "P"), instance(t, m, "P")
	g, _ := first.PopGoal(user)
	g.Operation.Execute(user)
	g.Operation.Execute(user)

	other, _ := second.PopGoal(user)
	assert.Equal(t, 2, g.Operation.(*goaloptest.Op).Calls)
	assert.Zero(t, other.Operation.(*goaloptest.Op).Calls)
	assert.Zero(t, m.IsGoalPipe("P").Goal(0).Operation.(*goaloptest.Op).Calls)
	assert.Equal(t, 1, first.Cursor())
	assert.Equal(t, 1, second.Cursor())
}

func TestSubPipeCallSemantics(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "Q", "opC")
	register(t, m, "P", "opA", "@Q", "opB")
	user := goaloptest.NewUser("npc")

	assert.Equal(t, []string{"opA", "opC", "opB"}, popAll(t, instance(t, m, "P"), user))
}

func TestEmptySubPipeFallsThrough(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "E")
	register(t, m, "Q", "@E")
	register(t, m, "P", "@Q", "opB")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	assert.Equal(t, "opB", popName(t, p, user))
	assert.Nil(t, p.SubPipe())
}

func TestSubPipeFinishResetsItsOperations(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "Q", "opC")
	register(t, m, "P", "@Q", "opB")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	g, _ := p.PopGoal(user)
	sub := p.SubPipe()
	require.NotNil(t, sub)

	assert.Equal(t, "opB", popName(t, p, user))
	assert.Equal(t, 1, g.Operation.(*goaloptest.Op).Resets)
	assert.Nil(t, p.SubPipe())
}

func TestBrokenReferenceEndsPipe(t *testing.T) {
	m, logs := newManager(t)
	register(t, m, "P", "@missing")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	g, res := p.PopGoal(user)
	assert.Nil(t, g)
	assert.Equal(t, goalpipe.PopAtEnd, res)
	assert.Equal(t, 1, logs.FilterMessage("unknown goal pipe referenced").Len())
}

func TestSelfReferenceIsBounded(t *testing.T) {
	m, logs := newManager(t)
	register(t, m, "R", "@R")
	user := goaloptest.NewUser("npc")

	_, res := instance(t, m, "R").PopGoal(user)
	assert.Equal(t, goalpipe.PopAtEnd, res)
	assert.Equal(t, 1, logs.FilterMessage("goal pipe nesting too deep").Len())
}

func groupedPipe(t *testing.T, m *goalpipe.Manager, name string, groups ...goalpipe.Grouping) {
	t.Helper()
	b := m.CreateGoalPipe(name)
	for i, g := range groups {
		b.PushGoalByName([]string{"opA", "opB", "opC", "opD", "opE"}[i], true, g, nil, nil)
	}
	require.NoError(t, b.Register())
}

func TestReExecuteGroupedRun(t *testing.T) {
	m, _ := newManager(t)
	groupedPipe(t, m, "P", goalpipe.Grouped, goalpipe.Grouped, goalpipe.Grouped, goalpipe.NoGroup)
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)
	popName(t, p, user)
	popName(t, p, user)
	assert.Equal(t, 3, p.GroupCount())

	p.ReExecuteGroup()
	assert.Zero(t, p.GroupCount())
	assert.Equal(t, "opA", popName(t, p, user))
}

func TestReExecuteGroupMidGroup(t *testing.T) {
	m, _ := newManager(t)
	groupedPipe(t, m, "P", goalpipe.Grouped, goalpipe.Grouped, goalpipe.NoGroup)
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)
	popName(t, p, user)
	p.ReExecuteGroup()
	assert.Equal(t, "opA", popName(t, p, user))
}

func TestReExecuteGroupWithPrevious(t *testing.T) {
	m, _ := newManager(t)
	groupedPipe(t, m, "P", goalpipe.NoGroup, goalpipe.NoGroup, goalpipe.GroupWithPrevious, goalpipe.GroupWithPrevious, goalpipe.NoGroup)
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	for range 4 {
		popName(t, p, user)
	}
	p.ReExecuteGroup()
	assert.Equal(t, "opB", popName(t, p, user), "rewinds to the head of the chain")
}

func TestReExecuteUngroupedRetriesSameGoal(t *testing.T) {
	m, _ := newManager(t)
	groupedPipe(t, m, "P", goalpipe.Grouped, goalpipe.NoGroup, goalpipe.NoGroup)
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)
	popName(t, p, user)
	p.ReExecuteGroup()
	assert.Equal(t, "opB", popName(t, p, user))
}

func TestJumpBackward(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA", "opB", "opC", "opD", "opE")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	for range 3 {
		popName(t, p, user)
	}
	require.Equal(t, 3, p.Cursor())

	assert.True(t, p.Jump(-2))
	assert.Equal(t, 1, p.Cursor())
	assert.Equal(t, "opB", popName(t, p, user))
}

func TestJumpBounds(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA", "opB")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)
	assert.True(t, p.Jump(-10))
	assert.Zero(t, p.Cursor())

	assert.False(t, p.Jump(5))
	_, res := p.PopGoal(user)
	assert.Equal(t, goalpipe.PopAtEnd, res)
}

func TestJumpTargetsInnermostPipe(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "Q", "opC", "opD", "opE")
	register(t, m, "P", "opA", "@Q", "opB")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)
	assert.Equal(t, "opC", popName(t, p, user))

	p.Jump(1)
	assert.Equal(t, 2, p.Cursor(), "parent cursor untouched")
	assert.Equal(t, "opE", popName(t, p, user))
	assert.Equal(t, "opB", popName(t, p, user))
}

func TestJumpLabelAtRuntime(t *testing.T) {
	m, logs := newManager(t)
	require.NoError(t, m.CreateGoalPipe("P").
		PushGoalByName("opA", true, goalpipe.NoGroup, nil, nil).
		PushLabel("again").
		PushGoalByName("opB", true, goalpipe.NoGroup, nil, nil).
		PushGoalByName("opC", true, goalpipe.NoGroup, nil, nil).
		Register())
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popAll(t, p, user)
	assert.True(t, p.JumpLabel("again"))
	assert.Equal(t, "opB", popName(t, p, user))

	assert.False(t, p.JumpLabel("nowhere"))
	assert.Equal(t, 1, logs.FilterMessage("unknown goal pipe label").Len())
}

func TestInterruptFinishingBreaksLoop(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA", "opB")
	register(t, m, "I", "opC")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)

	interrupt := instance(t, m, "I")
	interrupt.MarkInserted(7, false, false)
	p.InsertSubPipe(interrupt)

	assert.Equal(t, goalpipe.PopSucceed, p.PeekPopGoalResult())
	assert.Equal(t, "opC", popName(t, p, user))
	assert.Equal(t, goalpipe.PopBreakLoop, p.PeekPopGoalResult())
	_, res := p.PopGoal(user)
	assert.Equal(t, goalpipe.PopBreakLoop, res)
	assert.Equal(t, "opB", popName(t, p, user))
}

func TestPlainCallContinuesParent(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "Q", "opC")
	register(t, m, "P", "@Q", "opB")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)
	p.SubPipe().MarkInserted(9, false, false)
	_, res := p.PopGoal(user)
	assert.Equal(t, goalpipe.PopBreakLoop, res, "interrupt flag set explicitly")

	q := instance(t, m, "P")
	popName(t, q, user)
	assert.Zero(t, q.SubPipe().EventID())
	assert.Equal(t, "opB", popName(t, q, user))
}

func TestPeekDoesNotMutate(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "E")
	register(t, m, "Q", "opC")
	register(t, m, "P", "@E", "@Q", "@missing")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	assert.Equal(t, goalpipe.PopSucceed, p.PeekPopGoalResult())
	assert.Zero(t, p.Cursor())
	assert.Nil(t, p.SubPipe())

	assert.Equal(t, "opC", popName(t, p, user))
	assert.Equal(t, goalpipe.PopAtEnd, p.PeekPopGoalResult())
}

func TestTemplatePopPanicsInDevelopment(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	logger := log.NewFromZap(zap.New(core, zap.Development()))
	m := goalpipe.NewManager(goalop.NewOrdering(&goaloptest.Factory{Known: testOps}), nil, logger)
	register(t, m, "P", "opA")

	assert.Panics(t, func() { m.IsGoalPipe("P").PopGoal(goaloptest.NewUser("npc")) })
}

func insertChain(t *testing.T, m *goalpipe.Manager, root *goalpipe.GoalPipe, ids ...uint32) []*goalpipe.GoalPipe {
	t.Helper()
	var out []*goalpipe.GoalPipe
	for _, id := range ids {
		p := instance(t, m, "I")
		p.MarkInserted(id, id%2 == 0, false)
		root.InsertSubPipe(p)
		out = append(out, p)
	}
	return out
}

func resets(p *goalpipe.GoalPipe) int {
	return p.Goal(0).Operation.(*goaloptest.Op).Resets
}

func TestRemoveSubpipeKeepInserted(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA")
	register(t, m, "I", "opC")
	user := goaloptest.NewUser("npc")

	root := instance(t, m, "P")
	chain := insertChain(t, m, root, 1, 2, 3)

	id, ok := root.RemoveSubpipe(user, 2, true, false)
	require.True(t, ok)
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, []*goalpipe.GoalPipe{root, chain[0], chain[2]}, root.Chain())
	assert.Equal(t, []int{0, 1, 0}, []int{resets(chain[0]), resets(chain[1]), resets(chain[2])})
}

func TestRemoveSubpipeDropsNested(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA")
	register(t, m, "I", "opC")
	user := goaloptest.NewUser("npc")

	root := instance(t, m, "P")
	chain := insertChain(t, m, root, 1, 3, 5)

	_, ok := root.RemoveSubpipe(user, 3, false, false)
	require.True(t, ok)
	assert.Equal(t, []*goalpipe.GoalPipe{root, chain[0]}, root.Chain())
	assert.Equal(t, 1, resets(chain[1]))
	assert.Equal(t, 1, resets(chain[2]))
}

func TestRemoveSubpipeKeepHigherPriority(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA")
	register(t, m, "I", "opC")
	user := goaloptest.NewUser("npc")

	root := instance(t, m, "P")
	// even ids are high priority
	chain := insertChain(t, m, root, 1, 2, 3, 4)

	_, ok := root.RemoveSubpipe(user, 1, false, true)
	require.True(t, ok)
	assert.Equal(t, []*goalpipe.GoalPipe{root, chain[1], chain[3]}, root.Chain())
	assert.Equal(t, 1, resets(chain[0]))
	assert.Equal(t, 1, resets(chain[2]))
	assert.Zero(t, resets(chain[1]))
}

func TestRemoveInnermostAndMissing(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA")
	register(t, m, "I", "opC")
	user := goaloptest.NewUser("npc")

	root := instance(t, m, "P")
	_, ok := root.RemoveSubpipe(user, 0, false, false)
	assert.False(t, ok)

	chain := insertChain(t, m, root, 1, 3)
	id, ok := root.RemoveSubpipe(user, 0, false, false)
	require.True(t, ok)
	assert.Equal(t, uint32(3), id)
	assert.Equal(t, []*goalpipe.GoalPipe{root, chain[0]}, root.Chain())

	_, ok = root.RemoveSubpipe(user, 42, false, false)
	assert.False(t, ok)
}

func TestInsertBelowKeepOnTop(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "P", "opA")
	register(t, m, "I", "opC")

	root := instance(t, m, "P")
	top := instance(t, m, "I")
	top.MarkInserted(1, false, true)
	root.InsertSubPipe(top)

	next := instance(t, m, "I")
	next.MarkInserted(2, false, false)
	root.InsertSubPipe(next)

	assert.Equal(t, []*goalpipe.GoalPipe{root, next, top}, root.Chain())
	assert.Same(t, top, root.Innermost())
}

func TestResetRewindsAndResetsOperations(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "Q", "opC")
	register(t, m, "P", "opA", "@Q")
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	a := p.Goal(0).Operation.(*goaloptest.Op)
	popName(t, p, user)
	popName(t, p, user)
	c := p.SubPipe().Goal(0).Operation.(*goaloptest.Op)
	p.SetLastResult(goalop.Failed)

	p.Reset(user)

	assert.Zero(t, p.Cursor())
	assert.Nil(t, p.SubPipe())
	assert.Equal(t, goalop.None, p.LastResult())
	assert.Equal(t, 1, a.Resets)
	assert.Equal(t, 1, c.Resets)
	assert.Equal(t, "opA", popName(t, p, user))
}

func TestReferenceParamsReachSubPipe(t *testing.T) {
	m, _ := newManager(t)
	register(t, m, "Q", "opC", "opD")
	require.NoError(t, m.CreateGoalPipe("P").
		PushPipe("Q", true, goalpipe.NoGroup, goalop.Params{"distance": 4.5}).
		Register())
	user := goaloptest.NewUser("npc")

	p := instance(t, m, "P")
	popName(t, p, user)
	for i := range 2 {
		assert.Equal(t, 4.5, p.SubPipe().Goal(i).Operation.(*goaloptest.Op).Params["distance"])
	}
	assert.Empty(t, m.IsGoalPipe("Q").Goal(0).Operation.(*goaloptest.Op).Params)
}
