package goalop

import (
	"errors"
	"io"
	"sync"
)

var _ Factory = (*Ordering)(nil)

// Ordering is a chain of factories tried in registration order. The first
// non-nil operation wins. The ordering owns every factory added to it.
type Ordering struct {
	mu        sync.RWMutex
	factories []Factory
}

func NewOrdering(factories ...Factory) *Ordering {
	o := &Ordering{}
	for _, f := range factories {
		o.AddFactory(f)
	}
	return o
}

func (o *Ordering) AddFactory(f Factory) {
	if f == nil {
		return
	}
	o.mu.Lock()
	o.factories = append(o.factories, f)
	o.mu.Unlock()
}

// Reserve is a capacity hint for the number of factories to come.
func (o *Ordering) Reserve(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if free := cap(o.factories) - len(o.factories); n > free {
		grown := make([]Factory, len(o.factories), len(o.factories)+n)
		copy(grown, o.factories)
		o.factories = grown
	}
}

func (o *Ordering) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.factories)
}

// DestroyAll closes factories holding resources and clears the chain.
func (o *Ordering) DestroyAll() error {
	o.mu.Lock()
	factories := o.factories
	o.factories = nil
	o.mu.Unlock()

	var all error
	for _, f := range factories {
		if c, ok := f.(io.Closer); ok {
			if err := c.Close(); err != nil {
				all = errors.Join(all, err)
			}
		}
	}
	return all
}

func (o *Ordering) GetGoalOpByName(name string, src Source, start int, out *Params) Operation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, f := range o.factories {
		if op := f.GetGoalOpByName(name, src, start, out); op != nil {
			return op
		}
	}
	return nil
}

func (o *Ordering) GetGoalOp(id ID, params Params) Operation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, f := range o.factories {
		if op := f.GetGoalOp(id, params); op != nil {
			return op
		}
	}
	return nil
}

// Lookup asks factories that know operation ids by name, in order.
func (o *Ordering) Lookup(name string) (ID, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, f := range o.factories {
		if l, ok := f.(interface{ Lookup(string) (ID, bool) }); ok {
			if id, found := l.Lookup(name); found {
				return id, true
			}
		}
	}
	return OpNone, false
}
