package goalops

import (
	"errors"

	"github.com/expr-lang/expr/vm"

	"github.com/zeusync/goalpipe/internal/core/archive"
	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

var (
	ErrNoKey       = errors.New("missing key parameter")
	ErrNoCondition = errors.New("missing expr parameter")
)

// RetryGroup re-runs the group it belongs to while the previous goal failed,
// up to max times. The counter survives Reset and is cleared by a success so
// a looping pipe gets a fresh budget each pass.
type RetryGroup struct {
	max     int
	retries int
}

func NewRetryGroup(params goalop.Params) (goalop.Operation, error) {
	n, ok := params.Int("max")
	if !ok {
		n = 1
	}
	return &RetryGroup{max: n}, nil
}

func (r *RetryGroup) Execute(user goalop.PipeUser) goalop.Result {
	if user.LastResult() != goalop.Failed {
		r.retries = 0
		return goalop.Succeeded
	}
	if r.retries >= r.max {
		r.retries = 0
		return goalop.Failed
	}
	r.retries++
	user.ReExecuteGroup()
	return goalop.Succeeded
}

func (r *RetryGroup) ExecuteDry(goalop.PipeUser) {}
func (r *RetryGroup) Reset(goalop.PipeUser)      {}

func (r *RetryGroup) Clone() goalop.Operation {
	c := *r
	return &c
}

func (r *RetryGroup) Retries() int { return r.retries }

func (r *RetryGroup) ParseParam(name string, value any) bool {
	if name != "max" {
		return false
	}
	n, ok := goalop.Params{name: value}.Int(name)
	if ok {
		r.max = n
	}
	return ok
}

func (r *RetryGroup) Serialize(ar archive.Archive) error {
	return ar.Value("retries", &r.retries)
}

// SetValue writes one blackboard entry.
type SetValue struct {
	key   string
	value any
}

func NewSetValue(params goalop.Params) (goalop.Operation, error) {
	key, _ := params.String("key")
	if key == "" {
		return nil, ErrNoKey
	}
	v, _ := params.Get("value")
	return &SetValue{key: key, value: v}, nil
}

func (s *SetValue) Execute(user goalop.PipeUser) goalop.Result {
	user.Blackboard().Set(s.key, s.value)
	return goalop.Succeeded
}

func (s *SetValue) ExecuteDry(goalop.PipeUser) {}
func (s *SetValue) Reset(goalop.PipeUser)      {}

func (s *SetValue) Clone() goalop.Operation {
	c := *s
	return &c
}

func (s *SetValue) ParseParam(name string, value any) bool {
	if name != "value" {
		return false
	}
	s.value = value
	return true
}

// Log writes a message through the agent logger.
type Log struct {
	level   log.Level
	message string
}

func NewLog(params goalop.Params) (goalop.Operation, error) {
	msg, _ := params.String("message")
	lvl, _ := params.String("level")
	return &Log{level: log.ParseLevel(lvl), message: msg}, nil
}

func (l *Log) Execute(user goalop.PipeUser) goalop.Result {
	user.Logger().Log(l.level, l.message, log.Agent(user.ID()))
	return goalop.Succeeded
}

func (l *Log) ExecuteDry(goalop.PipeUser) {}
func (l *Log) Reset(goalop.PipeUser)      {}

func (l *Log) Clone() goalop.Operation {
	c := *l
	return &c
}

// Check evaluates a boolean expression once and reports it as the result,
// so a following branch can react to it.
type Check struct {
	source  string
	program *vm.Program
}

func NewCheck(params goalop.Params) (goalop.Operation, error) {
	src, _ := params.String("expr")
	if src == "" {
		return nil, ErrNoCondition
	}
	program, err := compileCondition(src)
	if err != nil {
		return nil, err
	}
	return &Check{source: src, program: program}, nil
}

func (c *Check) Execute(user goalop.PipeUser) goalop.Result {
	ok, err := evalCondition(c.program, user)
	if err != nil {
		user.Logger().Warn("check failed to evaluate", log.String("expr", c.source), log.Error(err))
		return goalop.Failed
	}
	if ok {
		return goalop.Succeeded
	}
	return goalop.Failed
}

func (c *Check) ExecuteDry(goalop.PipeUser) {}
func (c *Check) Reset(goalop.PipeUser)      {}

func (c *Check) Clone() goalop.Operation {
	cp := *c
	return &cp
}
