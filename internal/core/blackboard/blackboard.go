// Package blackboard holds per-agent shared state that goal operations read
// and write while a pipe runs.
package blackboard

import (
	"bytes"
	"encoding/gob"
	"maps"
	"slices"
	"sync"
)

// Lists and maps decoded from YAML, TOML or JSON seeds travel through gob
// as interface values.
func init() {
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Blackboard is a concurrency safe key/value store owned by one agent.
type Blackboard interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Keys() []string
	// Snapshot returns a shallow copy suitable as an expression environment.
	Snapshot() map[string]any
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(b []byte) error
}

type board struct {
	mu   sync.RWMutex
	data map[string]any
}

// New returns an empty blackboard, optionally seeded with initial values.
func New(seed map[string]any) Blackboard {
	b := &board{data: make(map[string]any, len(seed))}
	maps.Copy(b.data, seed)
	return b
}

func (b *board) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *board) Set(key string, value any) {
	b.mu.Lock()
	b.data[key] = value
	b.mu.Unlock()
}

func (b *board) Delete(key string) {
	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()
}

func (b *board) Keys() []string {
	b.mu.RLock()
	keys := slices.Collect(maps.Keys(b.data))
	b.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

func (b *board) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.data)
}

func (b *board) MarshalBinary() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *board) UnmarshalBinary(data []byte) error {
	restored := make(map[string]any)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&restored); err != nil {
		return err
	}
	b.mu.Lock()
	b.data = restored
	b.mu.Unlock()
	return nil
}
