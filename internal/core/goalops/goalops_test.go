package goalops_test

import (
	"errors"
	"testing"
	"time"

	bt "github.com/joeycumines/go-behaviortree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/goalop/goaloptest"
	"github.com/zeusync/goalpipe/internal/core/goalops"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

func TestBranchConditions(t *testing.T) {
	f := goalops.NewFactory(nil)
	cases := []struct {
		name   string
		params goalop.Params
		last   goalop.Result
		jumped bool
	}{
		{"always", goalop.Params{"offset": -2}, goalop.None, true},
		{"if failed taken", goalop.Params{"offset": 1, "condition": "if_failed"}, goalop.Failed, true},
		{"if failed skipped", goalop.Params{"offset": 1, "condition": "if_failed"}, goalop.Succeeded, false},
		{"not if succeeded", goalop.Params{"offset": 1, "condition": "if_succeeded", "not": true}, goalop.Failed, true},
		{"expr", goalop.Params{"offset": 3, "condition": "if", "expr": `bb.health < 30`}, goalop.None, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user := goaloptest.NewUser("npc")
			user.Last = tc.last
			user.BB.Set("health", 10)
			op := f.GetGoalOp(goalop.OpBranch, tc.params)
			require.NotNil(t, op)

			assert.Equal(t, goalop.Succeeded, op.Execute(user))
			if tc.jumped {
				require.Len(t, user.Jumps, 1)
				want, _ := tc.params.Int("offset")
				assert.Equal(t, want, user.Jumps[0])
			} else {
				assert.Empty(t, user.Jumps)
			}
		})
	}
}

func TestBranchNeedsTarget(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := goalops.NewFactory(log.NewFromZap(zap.New(core)))

	assert.Nil(t, f.GetGoalOp(goalop.OpBranch, goalop.Params{"condition": "always"}))
	assert.Nil(t, f.GetGoalOp(goalop.OpBranch, goalop.Params{"offset": 1, "condition": "sometimes"}))
	assert.Equal(t, 2, logs.FilterMessage("invalid goal operation parameters").Len())
}

func TestBranchLabelTarget(t *testing.T) {
	var params goalop.Params
	op := goalops.NewFactory(nil).GetGoalOpByName("branch", goalop.Args{"retry", "if_failed"}, 0, &params)
	require.NotNil(t, op)
	lt, ok := op.(goalop.LabelTarget)
	require.True(t, ok)
	assert.Equal(t, "retry", lt.JumpLabel())
	assert.Equal(t, "if_failed", params["condition"])

	lt.SetJumpOffset(-4)
	clone := op.Clone().(*goalops.Branch)
	assert.Equal(t, -4, clone.Offset())
}

func TestTimeoutUsesAgentClock(t *testing.T) {
	op := goalops.NewFactory(nil).GetGoalOp(goalop.OpTimeout, goalop.Params{"duration": "2s"})
	require.NotNil(t, op)
	user := goaloptest.NewUser("npc")

	assert.Equal(t, goalop.InProgress, op.Execute(user))
	user.Advance(time.Second)
	assert.Equal(t, goalop.InProgress, op.Execute(user))
	user.Advance(time.Second)
	assert.Equal(t, goalop.Succeeded, op.Execute(user))

	op.Reset(user)
	assert.Equal(t, goalop.InProgress, op.Execute(user), "reset restarts the clock")
}

func TestTimeoutParseParamOverride(t *testing.T) {
	op := goalops.NewFactory(nil).GetGoalOp(goalop.OpTimeout, goalop.Params{"duration": 10.0})
	require.NotNil(t, op)
	require.True(t, op.(goalop.ParamParser).ParseParam("duration", 1.0))

	user := goaloptest.NewUser("npc")
	op.Execute(user)
	user.Advance(time.Second)
	assert.Equal(t, goalop.Succeeded, op.Execute(user))
}

func TestWaitModes(t *testing.T) {
	f := goalops.NewFactory(nil)
	user := goaloptest.NewUser("npc")
	user.Pending = 2

	all := f.GetGoalOp(goalop.OpWait, nil)
	anyOp := f.GetGoalOp(goalop.OpWait, goalop.Params{"mode": "any"})

	assert.Equal(t, goalop.InProgress, all.Execute(user))
	assert.Equal(t, goalop.InProgress, anyOp.Execute(user))
	user.Pending = 1
	assert.Equal(t, goalop.InProgress, all.Execute(user))
	assert.Equal(t, goalop.Succeeded, anyOp.Execute(user))
	user.Pending = 0
	assert.Equal(t, goalop.Succeeded, all.Execute(user))
}

func TestRetryGroup(t *testing.T) {
	op := goalops.NewFactory(nil).GetGoalOp(goalop.OpRetryGroup, goalop.Params{"max": 2})
	require.NotNil(t, op)
	user := goaloptest.NewUser("npc")
	user.Last = goalop.Failed

	assert.Equal(t, goalop.Succeeded, op.Execute(user))
	op.Reset(user)
	assert.Equal(t, goalop.Succeeded, op.Execute(user))
	assert.Equal(t, 2, user.ReExecuted)
	assert.Equal(t, goalop.Failed, op.Execute(user), "budget exhausted")
	assert.Equal(t, 2, user.ReExecuted)

	user.Last = goalop.Succeeded
	assert.Equal(t, goalop.Succeeded, op.Execute(user))
	assert.Zero(t, op.(*goalops.RetryGroup).Retries())
}

func TestSetValueAndCheck(t *testing.T) {
	f := goalops.NewFactory(nil)
	user := goaloptest.NewUser("npc")

	var params goalop.Params
	set := f.GetGoalOpByName("set_value", goalop.Args{"alert", true}, 0, &params)
	require.NotNil(t, set)
	assert.Equal(t, goalop.Succeeded, set.Execute(user))

	check := f.GetGoalOp(goalop.OpCheck, goalop.Params{"expr": `bb.alert == true && agent == "npc"`})
	require.NotNil(t, check)
	assert.Equal(t, goalop.Succeeded, check.Execute(user))

	user.BB.Set("alert", false)
	assert.Equal(t, goalop.Failed, check.Execute(user))
	assert.Nil(t, f.GetGoalOp(goalop.OpCheck, goalop.Params{"expr": "bb.alert +"}))
}

func TestLogWritesThroughAgentLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	user := goaloptest.NewUser("npc")
	user.Log = log.NewFromZap(zap.New(core))

	op := goalops.NewFactory(nil).GetGoalOp(goalop.OpLog, goalop.Params{"message": "reached cover", "level": "warn"})
	require.NotNil(t, op)
	op.Execute(user)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "reached cover", logs.All()[0].Message)
}

func TestUnknownCoreIDs(t *testing.T) {
	f := goalops.NewFactory(nil)
	assert.Nil(t, f.GetGoalOp(goalop.FirstUserID, nil))
	assert.Nil(t, f.GetGoalOpByName("shoot", nil, 0, nil))
	assert.Nil(t, f.GetGoalOpByName("tree", nil, 0, nil), "trees come from a TreeFactory")
}

func TestTreeOperation(t *testing.T) {
	trees := goalops.NewTreeFactory()
	trees.Register("patrol", func(user goalop.PipeUser) bt.Node {
		ticks := 0
		return bt.New(bt.Sequence,
			bt.New(func([]bt.Node) (bt.Status, error) {
				ticks++
				if ticks < 2 {
					return bt.Running, nil
				}
				return bt.Success, nil
			}),
			bt.New(func([]bt.Node) (bt.Status, error) {
				user.Blackboard().Set("patrolled", true)
				return bt.Success, nil
			}),
		)
	})
	trees.Register("broken", func(goalop.PipeUser) bt.Node {
		return bt.New(func([]bt.Node) (bt.Status, error) { return bt.Failure, errors.New("no path") })
	})

	user := goaloptest.NewUser("npc")
	var params goalop.Params
	op := trees.GetGoalOpByName("tree", goalop.Args{"patrol"}, 0, &params)
	require.NotNil(t, op)
	assert.Equal(t, "patrol", params["tree"])

	assert.Equal(t, goalop.InProgress, op.Execute(user))
	assert.Equal(t, goalop.Succeeded, op.Execute(user))
	v, _ := user.BB.Get("patrolled")
	assert.Equal(t, true, v)

	broken := trees.GetGoalOp(goalop.OpTree, goalop.Params{"tree": "broken"})
	require.NotNil(t, broken)
	assert.Equal(t, goalop.Failed, broken.Execute(user))

	assert.Nil(t, trees.GetGoalOpByName("missing", nil, 0, nil))
	assert.NotNil(t, trees.GetGoalOpByName("patrol", nil, 0, nil))
}
