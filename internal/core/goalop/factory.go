package goalop

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

var (
	ErrDuplicateOp = errors.New("goal operation already registered")
	ErrReservedID  = errors.New("goal operation id is reserved")
)

// Factory resolves a symbolic operation request into a fresh instance. An
// unknown request yields nil, never an error.
type Factory interface {
	// GetGoalOpByName builds from a textual name. Positional arguments are
	// read from src starting at start and the named parameters they map to
	// are written to out.
	GetGoalOpByName(name string, src Source, start int, out *Params) Operation
	// GetGoalOp builds from an operation id and a parameter bag.
	GetGoalOp(id ID, params Params) Operation
}

// Constructor builds an operation from its parameters.
type Constructor func(params Params) (Operation, error)

type entry struct {
	name string
	id   ID
	args []string
	ctor Constructor
}

// Registry is a map backed Factory game code registers its operation types
// into.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*entry
	byID   map[ID]*entry
	logger log.Log
}

func NewRegistry(logger log.Log) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	return &Registry{
		byName: make(map[string]*entry),
		byID:   make(map[ID]*entry),
		logger: logger,
	}
}

// Register adds a constructor reachable by name and id. args names the
// parameters positional definition arguments bind to, in order.
func (r *Registry) Register(name string, id ID, args []string, ctor Constructor) error {
	if id == OpNone || id == OpSubPipe {
		return fmt.Errorf("%w: %s", ErrReservedID, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOp, name)
	}
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOp, id)
	}
	e := &entry{name: name, id: id, args: args, ctor: ctor}
	r.byName[name] = e
	r.byID[id] = e
	return nil
}

// Lookup returns the id registered under name.
func (r *Registry) Lookup(name string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return OpNone, false
	}
	return e.id, true
}

func (r *Registry) GetGoalOpByName(name string, src Source, start int, out *Params) Operation {
	r.mu.RLock()
	e := r.byName[name]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}
	var base Params
	if out != nil {
		base = *out
	}
	params := BindArgs(e.args, src, start, base)
	if out != nil {
		*out = params
	}
	return r.build(e, params)
}

func (r *Registry) GetGoalOp(id ID, params Params) Operation {
	r.mu.RLock()
	e := r.byID[id]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}
	return r.build(e, params)
}

func (r *Registry) build(e *entry, params Params) Operation {
	op, err := e.ctor(params)
	if err != nil {
		r.logger.Warn("goal operation construction failed", log.Op(e.name), log.Error(err))
		return nil
	}
	return op
}

// BindArgs copies base and fills in positional arguments from src under the
// given names. Named parameters already present win over positional ones.
func BindArgs(names []string, src Source, start int, base Params) Params {
	params := base.Clone()
	if params == nil {
		params = make(Params)
	}
	if src == nil {
		return params
	}
	for i, name := range names {
		v, ok := src.Arg(start + i)
		if !ok {
			break
		}
		if _, set := params[name]; !set {
			params[name] = v
		}
	}
	return params
}
