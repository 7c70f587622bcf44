// Package goalpipe implements goal pipes: named, nestable sequences of goals
// that an agent pops and executes tick by tick, and the registry of template
// pipes agents instantiate from.
package goalpipe

import (
	"fmt"

	"github.com/zeusync/goalpipe/internal/core/goalop"
)

// Grouping marks goals that are retried together as one cluster.
type Grouping uint8

const (
	NoGroup Grouping = iota
	Grouped
	GroupWithPrevious
)

func (g Grouping) String() string {
	switch g {
	case Grouped:
		return "grouped"
	case GroupWithPrevious:
		return "with_previous"
	default:
		return "none"
	}
}

func ParseGrouping(s string) (Grouping, error) {
	switch s {
	case "", "none":
		return NoGroup, nil
	case "grouped", "group":
		return Grouped, nil
	case "with_previous", "group_with_previous":
		return GroupWithPrevious, nil
	}
	return NoGroup, fmt.Errorf("unknown grouping %q", s)
}

// Goal is one scheduled step. A goal either owns an Operation or, when Op is
// goalop.OpSubPipe, references the pipe named PipeName.
type Goal struct {
	// Name is the operation name as authored, kept for diagnostics.
	Name      string
	Op        goalop.ID
	Operation goalop.Operation
	PipeName  string
	Blocking  bool
	Grouping  Grouping
	Params    goalop.Params
}

func (g *Goal) IsPipeRef() bool { return g.Op == goalop.OpSubPipe }

// Clone deep copies the goal. The owned operation is cloned so no state is
// shared with the source.
func (g *Goal) Clone() *Goal {
	c := &Goal{
		Name:     g.Name,
		Op:       g.Op,
		PipeName: g.PipeName,
		Blocking: g.Blocking,
		Grouping: g.Grouping,
		Params:   g.Params.Clone(),
	}
	if !g.IsPipeRef() && g.Operation != nil {
		c.Operation = g.Operation.Clone()
	}
	return c
}

func (g *Goal) String() string {
	if g.IsPipeRef() {
		return "pipe:" + g.PipeName
	}
	if g.Name != "" {
		return g.Name
	}
	return g.Op.String()
}
