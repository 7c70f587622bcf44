// Package goalop defines the contract every goal operation implements, the
// Enter/Update/Leave lifecycle adapter and the factory chain that turns a
// symbolic operation request into a runnable instance.
package goalop

import (
	"time"

	"github.com/zeusync/goalpipe/internal/core/archive"
	"github.com/zeusync/goalpipe/internal/core/blackboard"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// Result is the execution state an operation reports after each Execute.
type Result uint8

const (
	None Result = iota
	InProgress
	Succeeded
	Failed
)

// Terminal reports whether the operation has finished, either way.
func (r Result) Terminal() bool { return r == Succeeded || r == Failed }

func (r Result) String() string {
	switch r {
	case InProgress:
		return "in_progress"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "none"
	}
}

// Operation is one executable behavior unit. A Goal owns its Operation
// exclusively; cloning a goal clones the operation.
type Operation interface {
	// Execute runs one tick of work and reports the current result.
	Execute(user PipeUser) Result
	// ExecuteDry is called instead of Execute for frozen agents. It must not
	// advance the operation.
	ExecuteDry(user PipeUser)
	// Reset is called when the goal finishes or its pipe is deactivated.
	Reset(user PipeUser)
	Clone() Operation
}

// Serializer is implemented by operations with progress worth persisting.
type Serializer interface {
	Serialize(ar archive.Archive) error
}

// ParamParser accepts late-bound parameter overrides from an instantiation
// site. It reports whether the parameter was understood.
type ParamParser interface {
	ParseParam(name string, value any) bool
}

// LabelTarget is implemented by branching operations that name a label.
// Labels are resolved once when the pipe template is registered.
type LabelTarget interface {
	JumpLabel() string
	SetJumpOffset(offset int)
}

// PipeUser is the per-agent execution context handed to every operation.
type PipeUser interface {
	ID() string
	Blackboard() blackboard.Blackboard
	Now() time.Time
	Logger() log.Log
	// Jump moves the cursor of the innermost active pipe by offset and
	// reports whether the jump went backwards.
	Jump(offset int) bool
	// ReExecuteGroup rewinds the innermost pipe to the start of the group
	// the last popped goal belongs to.
	ReExecuteGroup()
	// LastResult is the terminal result of the previous finished goal of
	// the innermost pipe.
	LastResult() Result
	// PendingGoals counts in-flight non-blocking goals, excluding the caller.
	PendingGoals() int
}
