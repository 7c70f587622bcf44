package goalop_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/goalpipe/internal/core/archive"
	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/goalop/goaloptest"
)

func TestResetWithoutExecuteIsNoop(t *testing.T) {
	phases := &goaloptest.Phases{}
	op := goalop.NewEnterLeaveUpdate(phases)
	user := goaloptest.NewUser("a")

	op.Reset(user)

	assert.Zero(t, phases.Leaves)
	assert.Zero(t, phases.Enters)
	assert.False(t, op.Initialized())
}

func TestExecuteAfterResetReentersOnce(t *testing.T) {
	phases := &goaloptest.Phases{}
	op := goalop.NewEnterLeaveUpdate(phases)
	user := goaloptest.NewUser("a")

	assert.Equal(t, goalop.InProgress, op.Execute(user))
	assert.Equal(t, goalop.InProgress, op.Execute(user))
	op.Reset(user)
	op.Execute(user)

	assert.Equal(t, []string{"enter", "update", "update", "leave", "enter", "update"}, phases.Log)
}

func TestUpdateResultIsReported(t *testing.T) {
	phases := &goaloptest.Phases{Result: goalop.InProgress}
	op := goalop.NewEnterLeaveUpdate(phases)
	user := goaloptest.NewUser("a")

	require.Equal(t, goalop.InProgress, op.Execute(user))
	phases.Result = goalop.Failed
	assert.Equal(t, goalop.Failed, op.Execute(user))

	op.Reset(user)
	phases.Result = goalop.None
	assert.Equal(t, goalop.InProgress, op.Execute(user), "reset puts the result back to in progress")
}

func TestExecuteDryDoesNothing(t *testing.T) {
	phases := &goaloptest.Phases{}
	op := goalop.NewEnterLeaveUpdate(phases)
	op.ExecuteDry(goaloptest.NewUser("a"))
	assert.Empty(t, phases.Log)
	assert.False(t, op.Initialized())
}

func TestCloneIsIndependent(t *testing.T) {
	phases := &goaloptest.Phases{}
	op := goalop.NewEnterLeaveUpdate(phases)
	clone := op.Clone().(*goalop.EnterLeaveUpdate)

	clone.Execute(goaloptest.NewUser("a"))

	assert.Zero(t, phases.Enters)
	assert.False(t, op.Initialized())
	assert.Equal(t, 1, clone.Phases().(*goaloptest.Phases).Enters)
}

// counter is a Phases that keeps its progress across a save.
type counter struct {
	entered, ticks int
}

func (c *counter) Enter(goalop.PipeUser) { c.entered++ }

func (c *counter) Update(goalop.PipeUser) goalop.Result {
	c.ticks++
	return goalop.InProgress
}

func (c *counter) Leave(goalop.PipeUser) {}
func (c *counter) Clone() goalop.Phases  { cp := *c; return &cp }
func (c *counter) Serialize(ar archive.Archive) error {
	return ar.Value("ticks", &c.ticks)
}

func roundTrip(t *testing.T, op, restored *goalop.EnterLeaveUpdate) {
	t.Helper()
	w := archive.NewWriter()
	require.NoError(t, op.Serialize(w))
	raw, err := w.Bytes()
	require.NoError(t, err)

	r, err := archive.NewReader(raw)
	require.NoError(t, err)
	require.NoError(t, restored.Serialize(r))
}

func TestSerializeRestoresLifecycleState(t *testing.T) {
	user := goaloptest.NewUser("a")
	op := goalop.NewEnterLeaveUpdate(&counter{})
	op.Execute(user)
	op.Execute(user)

	c := &counter{}
	restored := goalop.NewEnterLeaveUpdate(c)
	roundTrip(t, op, restored)
	assert.True(t, restored.Initialized())
	assert.Equal(t, 2, c.ticks)

	restored.Execute(user)
	assert.Zero(t, c.entered, "serialized phases resume without Enter")
	assert.Equal(t, 3, c.ticks)
}

func TestSerializeReentersStatelessPhases(t *testing.T) {
	user := goaloptest.NewUser("a")
	op := goalop.NewEnterLeaveUpdate(&goaloptest.Phases{Result: goalop.Succeeded})
	op.Execute(user)
	require.True(t, op.Initialized())

	phases := &goaloptest.Phases{}
	restored := goalop.NewEnterLeaveUpdate(phases)
	roundTrip(t, op, restored)
	assert.False(t, restored.Initialized())

	assert.Equal(t, goalop.InProgress, restored.Execute(user))
	assert.Equal(t, 1, phases.Enters, "Enter rebuilds state the archive does not hold")
}
