// Package goaloptest provides recording doubles for goal operation tests.
package goaloptest

import (
	"maps"
	"slices"
	"time"

	"github.com/zeusync/goalpipe/internal/core/archive"
	"github.com/zeusync/goalpipe/internal/core/blackboard"
	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

var _ goalop.PipeUser = (*User)(nil)

// User is a PipeUser whose pipe facing calls are recorded or stubbed.
type User struct {
	Name    string
	BB      blackboard.Blackboard
	Clock   time.Time
	Log     log.Log
	Last    goalop.Result
	Pending int

	Jumps      []int
	JumpFn     func(offset int) bool
	ReExecuted int
}

func NewUser(name string) *User {
	return &User{
		Name:  name,
		BB:    blackboard.New(nil),
		Clock: time.Unix(1_700_000_000, 0),
		Log:   log.Nop(),
	}
}

func (u *User) ID() string                        { return u.Name }
func (u *User) Blackboard() blackboard.Blackboard { return u.BB }
func (u *User) Now() time.Time                    { return u.Clock }
func (u *User) Logger() log.Log                   { return u.Log }
func (u *User) LastResult() goalop.Result         { return u.Last }
func (u *User) PendingGoals() int                 { return u.Pending }
func (u *User) ReExecuteGroup()                   { u.ReExecuted++ }

func (u *User) Jump(offset int) bool {
	u.Jumps = append(u.Jumps, offset)
	if u.JumpFn != nil {
		return u.JumpFn(offset)
	}
	return offset < 0
}

// Advance moves the user clock forward.
func (u *User) Advance(d time.Duration) { u.Clock = u.Clock.Add(d) }

var (
	_ goalop.Operation   = (*Op)(nil)
	_ goalop.ParamParser = (*Op)(nil)
	_ goalop.Serializer  = (*Op)(nil)
)

// Op is an operation that replays a scripted sequence of results and counts
// every call it receives.
type Op struct {
	Name    string
	Script  []goalop.Result
	Params  map[string]any
	Calls   int
	Resets  int
	DryRuns int
}

// NewOp returns an op that reports the scripted results in order, repeating
// the last one. An empty script succeeds immediately.
func NewOp(name string, script ...goalop.Result) *Op {
	return &Op{Name: name, Script: script, Params: make(map[string]any)}
}

func (o *Op) Execute(goalop.PipeUser) goalop.Result {
	o.Calls++
	if len(o.Script) == 0 {
		return goalop.Succeeded
	}
	i := min(o.Calls, len(o.Script)) - 1
	return o.Script[i]
}

func (o *Op) ExecuteDry(goalop.PipeUser) { o.DryRuns++ }

func (o *Op) Reset(goalop.PipeUser) {
	o.Resets++
	o.Calls = 0
}

func (o *Op) Clone() goalop.Operation {
	c := *o
	c.Script = slices.Clone(o.Script)
	c.Params = maps.Clone(o.Params)
	return &c
}

func (o *Op) ParseParam(name string, value any) bool {
	o.Params[name] = value
	return true
}

func (o *Op) Serialize(ar archive.Archive) error {
	return ar.Value("calls", &o.Calls)
}

// Factory builds Ops for any name in Known.
type Factory struct {
	Known map[string]goalop.ID
	Built []string
}

func (f *Factory) GetGoalOpByName(name string, _ goalop.Source, _ int, _ *goalop.Params) goalop.Operation {
	if _, ok := f.Known[name]; !ok {
		return nil
	}
	f.Built = append(f.Built, name)
	return NewOp(name)
}

func (f *Factory) GetGoalOp(id goalop.ID, _ goalop.Params) goalop.Operation {
	for name, known := range f.Known {
		if known == id {
			f.Built = append(f.Built, name)
			return NewOp(name)
		}
	}
	return nil
}

// Phases records lifecycle calls made by the EnterLeaveUpdate adapter.
type Phases struct {
	Enters, Updates, Leaves int
	Result                  goalop.Result
	Log                     []string
}

func (p *Phases) Enter(goalop.PipeUser) {
	p.Enters++
	p.Log = append(p.Log, "enter")
}

func (p *Phases) Update(goalop.PipeUser) goalop.Result {
	p.Updates++
	p.Log = append(p.Log, "update")
	return p.Result
}

func (p *Phases) Leave(goalop.PipeUser) {
	p.Leaves++
	p.Log = append(p.Log, "leave")
}

func (p *Phases) Clone() goalop.Phases {
	c := *p
	c.Log = slices.Clone(p.Log)
	return &c
}
