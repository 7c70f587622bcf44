package goalops

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr/vm"

	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// BranchCondition selects when a Branch jumps.
type BranchCondition uint8

const (
	BranchAlways BranchCondition = iota
	BranchIfFailed
	BranchIfSucceeded
	BranchIfExpr
)

var ErrBranchTarget = errors.New("branch needs a label or an offset")

func parseBranchCondition(s string) (BranchCondition, error) {
	switch s {
	case "", "always":
		return BranchAlways, nil
	case "if_failed", "failed":
		return BranchIfFailed, nil
	case "if_succeeded", "succeeded":
		return BranchIfSucceeded, nil
	case "if", "expr":
		return BranchIfExpr, nil
	}
	return 0, fmt.Errorf("unknown branch condition %q", s)
}

var (
	_ goalop.Operation   = (*Branch)(nil)
	_ goalop.LabelTarget = (*Branch)(nil)
	_ goalop.ParamParser = (*Branch)(nil)
)

// Branch moves the cursor of the innermost pipe when its condition holds.
// The target is a label baked into a relative offset at registration.
type Branch struct {
	cond    BranchCondition
	not     bool
	label   string
	offset  int
	program *vm.Program
	source  string
}

// NewBranch reads: condition (always|if_failed|if_succeeded|if), label or
// offset, not, and expr for expression conditions.
func NewBranch(params goalop.Params) (goalop.Operation, error) {
	condName, _ := params.String("condition")
	cond, err := parseBranchCondition(condName)
	if err != nil {
		return nil, err
	}
	b := &Branch{cond: cond}
	b.not, _ = params.Bool("not")
	b.label, _ = params.String("label")
	offset, hasOffset := params.Int("offset")
	if b.label == "" && !hasOffset {
		return nil, ErrBranchTarget
	}
	b.offset = offset
	if cond == BranchIfExpr {
		b.source, _ = params.String("expr")
		if b.program, err = compileCondition(b.source); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Branch) Execute(user goalop.PipeUser) goalop.Result {
	take, err := b.holds(user)
	if err != nil {
		user.Logger().Warn("branch condition failed", log.String("expr", b.source), log.Error(err))
		return goalop.Failed
	}
	if b.not {
		take = !take
	}
	if take {
		user.Jump(b.offset)
	}
	return goalop.Succeeded
}

func (b *Branch) holds(user goalop.PipeUser) (bool, error) {
	switch b.cond {
	case BranchIfFailed:
		return user.LastResult() == goalop.Failed, nil
	case BranchIfSucceeded:
		return user.LastResult() == goalop.Succeeded, nil
	case BranchIfExpr:
		return evalCondition(b.program, user)
	default:
		return true, nil
	}
}

func (b *Branch) ExecuteDry(goalop.PipeUser) {}
func (b *Branch) Reset(goalop.PipeUser)      {}

func (b *Branch) Clone() goalop.Operation {
	c := *b
	return &c
}

func (b *Branch) JumpLabel() string        { return b.label }
func (b *Branch) SetJumpOffset(offset int) { b.offset = offset }
func (b *Branch) Offset() int              { return b.offset }

func (b *Branch) ParseParam(name string, value any) bool {
	switch name {
	case "not":
		v, ok := value.(bool)
		if ok {
			b.not = v
		}
		return ok
	}
	return false
}
