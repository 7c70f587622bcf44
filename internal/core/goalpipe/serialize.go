package goalpipe

import (
	"errors"
	"fmt"

	"github.com/zeusync/goalpipe/internal/core/archive"
	"github.com/zeusync/goalpipe/internal/core/goalop"
)

var (
	// ErrSignatureMismatch means the template changed since the state was
	// saved. Callers restart the pipe from scratch.
	ErrSignatureMismatch = errors.New("goal pipe template changed since save")
	ErrUnknownPipe       = errors.New("unknown goal pipe")
	ErrNotRestorable     = errors.New("dynamic goal pipe cannot be restored")
)

// ActiveGoal is a goal still executing, together with the pipe owning it.
type ActiveGoal struct {
	Goal *Goal
	Pipe *GoalPipe
}

// Serialize writes or restores the execution state of p and its sub-pipes.
// Only the goals listed in active carry operation state; when reading,
// restored in-flight goals are appended to active.
func (p *GoalPipe) Serialize(ar archive.Archive, active *[]ActiveGoal) error {
	name, sig := p.name, p.signature
	if err := ar.Value("name", &name); err != nil {
		return err
	}
	if err := ar.Value("signature", &sig); err != nil {
		return err
	}
	if ar.Reading() && (name != p.name || sig != p.signature) {
		return fmt.Errorf("%w: %s", ErrSignatureMismatch, p.name)
	}

	fields := []struct {
		key string
		ptr any
	}{
		{"cursor", &p.cursor},
		{"event_id", &p.eventID},
		{"interrupt", &p.interrupt},
		{"high_priority", &p.highPriority},
		{"keep_on_top", &p.keepOnTop},
		{"loop", &p.loop},
		{"group_count", &p.groupCount},
		{"last_result", &p.lastResult},
	}
	for _, f := range fields {
		if err := ar.Value(f.key, f.ptr); err != nil {
			return err
		}
	}
	if ar.Reading() && (p.cursor < 0 || p.cursor > len(p.goals)) {
		return fmt.Errorf("goal pipe %s: cursor %d out of range", p.name, p.cursor)
	}

	if err := p.serializeActive(ar, active); err != nil {
		return err
	}
	return p.serializeSub(ar, active)
}

func (p *GoalPipe) serializeActive(ar archive.Archive, active *[]ActiveGoal) error {
	var indices []int
	if !ar.Reading() && active != nil {
		for _, a := range *active {
			if a.Pipe != p {
				continue
			}
			for i, g := range p.goals {
				if g == a.Goal {
					indices = append(indices, i)
					break
				}
			}
		}
	}
	if err := ar.Value("active", &indices); err != nil {
		return err
	}

	for _, i := range indices {
		if i < 0 || i >= len(p.goals) {
			return fmt.Errorf("goal pipe %s: active goal %d out of range", p.name, i)
		}
		g := p.goals[i]
		if err := ar.BeginGroup("goal"); err != nil {
			return err
		}
		if s, ok := g.Operation.(goalop.Serializer); ok {
			if err := s.Serialize(ar); err != nil {
				return fmt.Errorf("goal pipe %s: goal %d: %w", p.name, i, err)
			}
		}
		if err := ar.EndGroup(); err != nil {
			return err
		}
		if ar.Reading() && active != nil {
			*active = append(*active, ActiveGoal{Goal: g, Pipe: p})
		}
	}
	return nil
}

func (p *GoalPipe) serializeSub(ar archive.Archive, active *[]ActiveGoal) error {
	subName := ""
	dynamic := false
	if p.sub != nil {
		subName = p.sub.name
		dynamic = p.sub.dynamic
	}
	if err := ar.Value("sub", &subName); err != nil {
		return err
	}
	if err := ar.Value("sub_dynamic", &dynamic); err != nil {
		return err
	}
	if subName == "" {
		if ar.Reading() {
			p.sub = nil
		}
		return nil
	}

	if ar.Reading() {
		if dynamic {
			return fmt.Errorf("%w: %s", ErrNotRestorable, subName)
		}
		var tmpl *GoalPipe
		if p.registry != nil {
			tmpl = p.registry.IsGoalPipe(subName)
		}
		if tmpl == nil {
			return fmt.Errorf("%w: %s", ErrUnknownPipe, subName)
		}
		p.sub = tmpl.Clone()
		if p.cursor > 0 {
			if ref := p.goals[p.cursor-1]; ref.IsPipeRef() && ref.PipeName == subName {
				p.sub.ParseParams(ref.Params)
			}
		}
	}

	if err := ar.BeginGroup("sub"); err != nil {
		return err
	}
	if err := p.sub.Serialize(ar, active); err != nil {
		return err
	}
	return ar.EndGroup()
}
