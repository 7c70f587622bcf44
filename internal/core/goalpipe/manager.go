package goalpipe

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

var (
	ErrDuplicatePipe = errors.New("goal pipe already registered")
	ErrDynamicPipe   = errors.New("dynamic goal pipes cannot be registered")
	ErrEmptyPipeName = errors.New("goal pipe name is empty")
)

var _ Registry = (*Manager)(nil)

// Manager owns the template pipes agents instantiate from. Templates are
// read-mostly and never executed; every push goes through a clone.
type Manager struct {
	mu        sync.RWMutex
	templates map[string]*GoalPipe

	ordering *goalop.Ordering
	fallback goalop.Factory
	logger   log.Log
}

// NewManager builds goals through ordering first and fallback last.
func NewManager(ordering *goalop.Ordering, fallback goalop.Factory, logger log.Log) *Manager {
	if ordering == nil {
		ordering = goalop.NewOrdering()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		templates: make(map[string]*GoalPipe),
		ordering:  ordering,
		fallback:  fallback,
		logger:    logger,
	}
}

func (m *Manager) Logger() log.Log { return m.logger }

// IsGoalPipe returns the template registered under name, or nil.
func (m *Manager) IsGoalPipe(name string) *GoalPipe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.templates[name]
}

// Instantiate clones the named template for execution.
func (m *Manager) Instantiate(name string) (*GoalPipe, bool) {
	tmpl := m.IsGoalPipe(name)
	if tmpl == nil {
		return nil, false
	}
	return tmpl.Clone(), true
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.templates))
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates)
}

// ClearForReload drops every template. Running instances are unaffected.
func (m *Manager) ClearForReload() {
	m.mu.Lock()
	m.templates = make(map[string]*GoalPipe)
	m.mu.Unlock()
}

// Replace swaps the whole template set at once.
func (m *Manager) Replace(templates map[string]*GoalPipe) {
	m.mu.Lock()
	m.templates = templates
	m.mu.Unlock()
}

// Register finalizes p as a template: labels are baked into branch offsets
// and the signature is computed.
func (m *Manager) Register(p *GoalPipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[p.name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePipe, p.name)
	}
	if err := m.seal(p); err != nil {
		return err
	}
	m.templates[p.name] = p
	return nil
}

func (m *Manager) seal(p *GoalPipe) error {
	if p.name == "" {
		return ErrEmptyPipeName
	}
	if p.dynamic {
		return fmt.Errorf("%w: %s", ErrDynamicPipe, p.name)
	}
	m.resolveLabels(p)
	p.signature = signature(p)
	p.template = true
	return nil
}

// resolveLabels converts every branch label into an offset relative to the
// cursor right after the branch was popped. Unknown labels become a jump of
// zero, which is a no-op.
func (m *Manager) resolveLabels(p *GoalPipe) {
	for i, g := range p.goals {
		lt, ok := g.Operation.(goalop.LabelTarget)
		if !ok || lt.JumpLabel() == "" {
			continue
		}
		idx, ok := p.labels[lt.JumpLabel()]
		if !ok {
			m.logger.Warn("unknown goal pipe label", log.Pipe(p.name), log.String("label", lt.JumpLabel()))
			lt.SetJumpOffset(0)
			continue
		}
		lt.SetJumpOffset(idx - (i + 1))
	}
}

func signature(p *GoalPipe) uint64 {
	d := xxhash.New()
	_, _ = fmt.Fprintf(d, "%s|%t|", p.name, p.loop)
	for _, g := range p.goals {
		_, _ = fmt.Fprintf(d, "%d:%s:%s:%t:%d;", g.Op, g.Name, g.PipeName, g.Blocking, g.Grouping)
	}
	for _, label := range slices.Sorted(maps.Keys(p.labels)) {
		_, _ = fmt.Fprintf(d, "@%s=%d", label, p.labels[label])
	}
	return d.Sum64()
}

// NewOp resolves an operation through the factory chain, then the fallback.
func (m *Manager) NewOp(id goalop.ID, params goalop.Params) goalop.Operation {
	if op := m.ordering.GetGoalOp(id, params); op != nil {
		return op
	}
	if m.fallback != nil {
		return m.fallback.GetGoalOp(id, params)
	}
	return nil
}

// NewOpByName is NewOp for textual operation names.
func (m *Manager) NewOpByName(name string, src goalop.Source, start int, out *goalop.Params) goalop.Operation {
	if op := m.ordering.GetGoalOpByName(name, src, start, out); op != nil {
		return op
	}
	if m.fallback != nil {
		return m.fallback.GetGoalOpByName(name, src, start, out)
	}
	return nil
}

// CreateGoalPipe starts building a template pipe.
func (m *Manager) CreateGoalPipe(name string) *Builder {
	return &Builder{m: m, pipe: newGoalPipe(name, m, m.logger)}
}

// CreateDynamicPipe starts building a one-off pipe that is executed directly
// instead of being registered.
func (m *Manager) CreateDynamicPipe(name string) *Builder {
	p := newGoalPipe(name, m, m.logger)
	p.dynamic = true
	return &Builder{m: m, pipe: p}
}

// Builder appends goals to a pipe under construction. Goals whose operation
// cannot be built are content errors: they are logged and skipped.
type Builder struct {
	m       *Manager
	pipe    *GoalPipe
	skipped int
}

func (b *Builder) PushGoal(id goalop.ID, blocking bool, grouping Grouping, params goalop.Params) *Builder {
	op := b.m.NewOp(id, params)
	if op == nil {
		b.skip(id.String())
		return b
	}
	b.pipe.goals = append(b.pipe.goals, &Goal{
		Name:      id.String(),
		Op:        id,
		Operation: op,
		Blocking:  blocking,
		Grouping:  grouping,
		Params:    params,
	})
	return b
}

// PushGoalByName builds the operation from a name with positional args.
func (b *Builder) PushGoalByName(name string, blocking bool, grouping Grouping, args goalop.Source, params goalop.Params) *Builder {
	out := params.Clone()
	op := b.m.NewOpByName(name, args, 0, &out)
	if op == nil {
		b.skip(name)
		return b
	}
	id, ok := goalop.CoreID(name)
	if !ok {
		id, _ = b.m.ordering.Lookup(name)
	}
	b.pipe.goals = append(b.pipe.goals, &Goal{
		Name:      name,
		Op:        id,
		Operation: op,
		Blocking:  blocking,
		Grouping:  grouping,
		Params:    out,
	})
	return b
}

// PushPipe appends a reference to another pipe. params override operation
// parameters of the referenced pipe when it is instantiated.
func (b *Builder) PushPipe(name string, blocking bool, grouping Grouping, params goalop.Params) *Builder {
	b.pipe.goals = append(b.pipe.goals, &Goal{
		Name:     name,
		Op:       goalop.OpSubPipe,
		PipeName: name,
		Blocking: blocking,
		Grouping: grouping,
		Params:   params,
	})
	return b
}

// PushLabel marks the position of the next goal.
func (b *Builder) PushLabel(label string) *Builder {
	if _, dup := b.pipe.labels[label]; dup {
		b.m.logger.Warn("duplicate goal pipe label", log.Pipe(b.pipe.name), log.String("label", label))
	}
	b.pipe.labels[label] = len(b.pipe.goals)
	return b
}

func (b *Builder) SetLoop(loop bool) *Builder {
	b.pipe.loop = loop
	return b
}

func (b *Builder) Skipped() int { return b.skipped }

// Register seals the pipe as a template in the manager.
func (b *Builder) Register() error {
	return b.m.Register(b.pipe)
}

// Build returns a dynamic pipe ready to execute.
func (b *Builder) Build() *GoalPipe {
	b.m.resolveLabels(b.pipe)
	b.pipe.signature = signature(b.pipe)
	return b.pipe
}

func (b *Builder) skip(op string) {
	b.skipped++
	b.m.logger.Error("unknown goal operation, goal skipped", log.Pipe(b.pipe.name), log.Op(op))
}
