package goalop

import (
	"fmt"
	"maps"
	"time"
)

// Params is the serializable parameter bag carried by a goal.
type Params map[string]any

func (p Params) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p[key]
	return v, ok
}

func (p Params) String(key string) (string, bool) {
	value, exists := p.Get(key)
	if !exists {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

func (p Params) Int(key string) (int, bool) {
	value, exists := p.Get(key)
	if !exists {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (p Params) Float(key string) (float64, bool) {
	value, exists := p.Get(key)
	if !exists {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (p Params) Bool(key string) (bool, bool) {
	value, exists := p.Get(key)
	if !exists {
		return false, false
	}
	v, ok := value.(bool)
	return v, ok
}

// Duration accepts Go duration strings and plain numbers, which are read as
// seconds since that is how pipe definitions are authored.
func (p Params) Duration(key string) (time.Duration, bool) {
	value, exists := p.Get(key)
	if !exists {
		return 0, false
	}
	switch v := value.(type) {
	case time.Duration:
		return v, true
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil
	case float64:
		return time.Duration(v * float64(time.Second)), true
	case int:
		return time.Duration(v) * time.Second, true
	case int64:
		return time.Duration(v) * time.Second, true
	default:
		return 0, false
	}
}

// Clone copies the top level of the bag.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Merge returns a copy of p overridden by over.
func (p Params) Merge(over Params) Params {
	out := make(Params, len(p)+len(over))
	maps.Copy(out, p)
	maps.Copy(out, over)
	return out
}

// Source yields positional arguments for name based construction.
type Source interface {
	NArgs() int
	Arg(i int) (any, bool)
}

// Args is the slice backed Source used by pipe definitions.
type Args []any

func (a Args) NArgs() int { return len(a) }

func (a Args) Arg(i int) (any, bool) {
	if i < 0 || i >= len(a) {
		return nil, false
	}
	return a[i], true
}
