package goalop

import "github.com/zeusync/goalpipe/internal/core/archive"

// Phases is the three phase contract operation authors implement. Enter runs
// once per activation, Update every tick, Leave once on deactivation.
// Update signals completion by returning Succeeded or Failed.
type Phases interface {
	Enter(user PipeUser)
	Update(user PipeUser) Result
	Leave(user PipeUser)
	Clone() Phases
}

var (
	_ Operation   = (*EnterLeaveUpdate)(nil)
	_ Serializer  = (*EnterLeaveUpdate)(nil)
	_ ParamParser = (*EnterLeaveUpdate)(nil)
)

// EnterLeaveUpdate adapts Phases to the raw Execute/Reset contract.
type EnterLeaveUpdate struct {
	phases      Phases
	initialized bool
	result      Result
}

func NewEnterLeaveUpdate(p Phases) *EnterLeaveUpdate {
	return &EnterLeaveUpdate{phases: p, result: InProgress}
}

func (e *EnterLeaveUpdate) Execute(user PipeUser) Result {
	if !e.initialized {
		e.initialized = true
		e.phases.Enter(user)
	}
	if r := e.phases.Update(user); r != None {
		e.result = r
	}
	return e.result
}

func (e *EnterLeaveUpdate) ExecuteDry(PipeUser) {}

func (e *EnterLeaveUpdate) Reset(user PipeUser) {
	if !e.initialized {
		return
	}
	e.phases.Leave(user)
	e.initialized = false
	e.result = InProgress
}

func (e *EnterLeaveUpdate) Clone() Operation {
	return &EnterLeaveUpdate{phases: e.phases.Clone(), initialized: e.initialized, result: e.result}
}

// Phases returns the wrapped implementation.
func (e *EnterLeaveUpdate) Phases() Phases { return e.phases }

func (e *EnterLeaveUpdate) Initialized() bool { return e.initialized }

func (e *EnterLeaveUpdate) ParseParam(name string, value any) bool {
	if pp, ok := e.phases.(ParamParser); ok {
		return pp.ParseParam(name, value)
	}
	return false
}

// Serialize persists the lifecycle state. Phases that do not serialize
// themselves come back uninitialized, so Enter rebuilds their state on the
// next Execute.
func (e *EnterLeaveUpdate) Serialize(ar archive.Archive) error {
	if err := ar.Value("initialized", &e.initialized); err != nil {
		return err
	}
	if err := ar.Value("result", &e.result); err != nil {
		return err
	}
	s, ok := e.phases.(Serializer)
	if !ok {
		if ar.Reading() {
			e.initialized = false
			e.result = InProgress
		}
		return nil
	}
	return s.Serialize(ar)
}

// JumpLabel and SetJumpOffset let branching phases take part in label
// resolution through the adapter.
func (e *EnterLeaveUpdate) JumpLabel() string {
	if lt, ok := e.phases.(LabelTarget); ok {
		return lt.JumpLabel()
	}
	return ""
}

func (e *EnterLeaveUpdate) SetJumpOffset(offset int) {
	if lt, ok := e.phases.(LabelTarget); ok {
		lt.SetJumpOffset(offset)
	}
}
