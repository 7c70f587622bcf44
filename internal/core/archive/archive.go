// Package archive is a small symmetric key/value/group archive. The same
// Serialize method drives both directions: it calls Value with a pointer and
// the archive either records the pointee or fills it in.
package archive

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrGroupNotFound = errors.New("archive group not found")
	ErrValueNotFound = errors.New("archive value not found")
	ErrUnbalanced    = errors.New("archive group end without begin")
)

type Archive interface {
	// Reading reports whether values are being restored.
	Reading() bool
	// Value records *v when writing and decodes into v when reading.
	Value(name string, v any) error
	// BeginGroup opens a named child group. Groups with the same name are
	// matched in the order they were written.
	BeginGroup(name string) error
	EndGroup() error
}

type node struct {
	Name     string
	Values   map[string][]byte
	Children []*node
}

func newNode(name string) *node {
	return &node{Name: name, Values: make(map[string][]byte)}
}

// Writer records values into an in-memory tree.
type Writer struct {
	root  *node
	stack []*node
}

func NewWriter() *Writer {
	root := newNode("")
	return &Writer{root: root, stack: []*node{root}}
}

func (w *Writer) Reading() bool { return false }

func (w *Writer) Value(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("archive value %q: %w", name, err)
	}
	w.top().Values[name] = raw
	return nil
}

func (w *Writer) BeginGroup(name string) error {
	child := newNode(name)
	top := w.top()
	top.Children = append(top.Children, child)
	w.stack = append(w.stack, child)
	return nil
}

func (w *Writer) EndGroup() error {
	if len(w.stack) == 1 {
		return ErrUnbalanced
	}
	w.stack = w.stack[:len(w.stack)-1]
	return nil
}

// Bytes gob encodes everything written so far.
func (w *Writer) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w.root); err != nil {
		return nil, fmt.Errorf("encode archive: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *Writer) top() *node { return w.stack[len(w.stack)-1] }

type frame struct {
	node    *node
	cursors map[string]int
}

// Reader restores values from bytes produced by Writer.Bytes.
type Reader struct {
	stack []*frame
}

func NewReader(data []byte) (*Reader, error) {
	var root node
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return &Reader{stack: []*frame{{node: &root, cursors: make(map[string]int)}}}, nil
}

func (r *Reader) Reading() bool { return true }

func (r *Reader) Value(name string, v any) error {
	raw, ok := r.top().node.Values[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrValueNotFound, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("archive value %q: %w", name, err)
	}
	return nil
}

func (r *Reader) BeginGroup(name string) error {
	top := r.top()
	want := top.cursors[name]
	seen := 0
	for _, child := range top.node.Children {
		if child.Name != name {
			continue
		}
		if seen == want {
			top.cursors[name]++
			r.stack = append(r.stack, &frame{node: child, cursors: make(map[string]int)})
			return nil
		}
		seen++
	}
	return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
}

func (r *Reader) EndGroup() error {
	if len(r.stack) == 1 {
		return ErrUnbalanced
	}
	r.stack = r.stack[:len(r.stack)-1]
	return nil
}

func (r *Reader) top() *frame { return r.stack[len(r.stack)-1] }
