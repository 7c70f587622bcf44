package agent

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/zeusync/goalpipe/internal/core/archive"
	bus "github.com/zeusync/goalpipe/internal/core/events/bus"
	"github.com/zeusync/goalpipe/internal/core/goalpipe"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

const stateVersion = 1

var ErrStateVersion = errors.New("unsupported agent state version")

// snapshot is the gob envelope of a saved agent.
type snapshot struct {
	Version     int
	ID          string
	Pipe        string
	PipeState   []byte
	BB          []byte
	NextEventID uint32
	Finished    bool
	DryRun      bool
}

// SaveState serializes the blackboard and the execution state of the pipe
// chain, including the operation state of goals in flight. A dynamic root
// pipe cannot be rebuilt and is left out.
func (a *Agent) SaveState() ([]byte, error) {
	bbBytes, err := a.bb.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("agent %s: blackboard: %w", a.id, err)
	}
	s := snapshot{
		Version:     stateVersion,
		ID:          a.id,
		BB:          bbBytes,
		NextEventID: a.nextEventID,
		Finished:    a.finished.Load(),
		DryRun:      a.dryRun,
	}
	if a.root != nil && a.root.IsDynamic() {
		a.logger.Warn("dynamic goal pipe not saved", log.Pipe(a.root.Name()))
	} else if a.root != nil {
		w := archive.NewWriter()
		active := a.active
		if err := a.root.Serialize(w, &active); err != nil {
			return nil, fmt.Errorf("agent %s: pipe %s: %w", a.id, a.root.Name(), err)
		}
		if s.PipeState, err = w.Bytes(); err != nil {
			return nil, err
		}
		s.Pipe = a.root.Name()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadState restores a state produced by SaveState. Pipe state that no
// longer matches the registered templates is a content error: the pipe
// restarts from a fresh instance instead.
func (a *Agent) LoadState(b []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return fmt.Errorf("decode agent state: %w", err)
	}
	if s.Version != stateVersion {
		return fmt.Errorf("%w: %d", ErrStateVersion, s.Version)
	}
	if s.ID != a.id {
		a.logger.Debug("loading state saved by another agent", log.String("saved_id", s.ID))
	}
	if len(s.BB) > 0 {
		if err := a.bb.UnmarshalBinary(s.BB); err != nil {
			return fmt.Errorf("agent %s: blackboard: %w", a.id, err)
		}
	}

	if a.root != nil {
		a.root.Reset(a)
	}
	a.root, a.active = nil, nil
	a.nextEventID = max(s.NextEventID, 1)
	a.finished.Store(s.Finished)
	a.dryRun = s.DryRun

	if s.Pipe != "" {
		a.restorePipe(s.Pipe, s.PipeState)
	}
	a.publish(bus.NewEvent(bus.AgentRestored, a.id, s.Pipe))
	return nil
}

func (a *Agent) restorePipe(name string, state []byte) {
	if a.manager == nil {
		a.contentError(name, ErrNoManager)
		return
	}
	p, ok := a.manager.Instantiate(name)
	if !ok {
		a.contentError(name, fmt.Errorf("%w: %s", goalpipe.ErrUnknownPipe, name))
		return
	}

	r, err := archive.NewReader(state)
	var active []goalpipe.ActiveGoal
	if err == nil {
		err = p.Serialize(r, &active)
	}
	if err != nil {
		a.contentError(name, fmt.Errorf("restart from scratch: %w", err))
		p.Reset(a)
		if p, ok = a.manager.Instantiate(name); !ok {
			return
		}
		active = nil
		a.finished.Store(false)
	}
	a.root = p
	a.active = active
}
