package goalpipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/goalpipe/internal/core/goalop"
)

var ErrUnsupportedFormat = errors.New("unsupported pipe definition format")

// Definitions describes template pipes in JSON or YAML.
type Definitions struct {
	Pipes []PipeDef `json:"pipes" yaml:"pipes"`
}

type PipeDef struct {
	Name  string    `json:"name" yaml:"name"`
	Loop  bool      `json:"loop,omitempty" yaml:"loop,omitempty"`
	Goals []GoalDef `json:"goals" yaml:"goals"`
}

// GoalDef is one entry of a pipe: an operation (op), a pipe reference (pipe)
// or a label. Goals block by default.
type GoalDef struct {
	Op       string         `json:"op,omitempty" yaml:"op,omitempty"`
	Pipe     string         `json:"pipe,omitempty" yaml:"pipe,omitempty"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	Blocking *bool          `json:"blocking,omitempty" yaml:"blocking,omitempty"`
	Group    string         `json:"group,omitempty" yaml:"group,omitempty"`
	Args     []any          `json:"args,omitempty" yaml:"args,omitempty"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

func (g GoalDef) blocking() bool {
	return g.Blocking == nil || *g.Blocking
}

// LoadJSON loads definitions from a JSON reader.
func LoadJSON(r io.Reader) (*Definitions, error) {
	var d Definitions
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadYAML loads definitions from a YAML reader.
func LoadYAML(r io.Reader) (*Definitions, error) {
	var d Definitions
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadFile picks the decoder from the file extension.
func LoadFile(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var d *Definitions
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		d, err = LoadJSON(f)
	case ".yaml", ".yml":
		d, err = LoadYAML(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return d, nil
}

// DefinitionFiles expands directories into the definition files they hold.
func DefinitionFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".json", ".yaml", ".yml":
				if !e.IsDir() {
					files = append(files, filepath.Join(p, e.Name()))
				}
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

// LoadPaths loads and merges every definition file under paths.
func LoadPaths(paths []string) (*Definitions, error) {
	files, err := DefinitionFiles(paths)
	if err != nil {
		return nil, err
	}
	all := &Definitions{}
	for _, file := range files {
		d, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		all.Pipes = append(all.Pipes, d.Pipes...)
	}
	return all, nil
}

// Validate checks the structure of the definitions. Unknown operations and
// pipe references are content errors reported when building, not here.
func (d *Definitions) Validate() error {
	var all error
	seen := make(map[string]bool, len(d.Pipes))
	for i, p := range d.Pipes {
		if p.Name == "" {
			all = errors.Join(all, fmt.Errorf("pipe #%d: %w", i, ErrEmptyPipeName))
			continue
		}
		if seen[p.Name] {
			all = errors.Join(all, fmt.Errorf("%w: %s", ErrDuplicatePipe, p.Name))
		}
		seen[p.Name] = true
		for j, g := range p.Goals {
			set := 0
			for _, s := range []string{g.Op, g.Pipe, g.Label} {
				if s != "" {
					set++
				}
			}
			if set != 1 {
				all = errors.Join(all, fmt.Errorf("pipe %s goal #%d: exactly one of op, pipe or label is required", p.Name, j))
			}
			if _, err := ParseGrouping(g.Group); err != nil {
				all = errors.Join(all, fmt.Errorf("pipe %s goal #%d: %w", p.Name, j, err))
			}
		}
	}
	return all
}

// Build registers every pipe as a template in m.
func (d *Definitions) Build(m *Manager) error {
	templates, err := d.compile(m)
	if err != nil {
		return err
	}
	var all error
	for _, p := range templates {
		if err := m.Register(p); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

// compile builds sealed templates without touching the manager's set.
func (d *Definitions) compile(m *Manager) ([]*GoalPipe, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	out := make([]*GoalPipe, 0, len(d.Pipes))
	for _, def := range d.Pipes {
		b := m.CreateGoalPipe(def.Name).SetLoop(def.Loop)
		for _, g := range def.Goals {
			grouping, _ := ParseGrouping(g.Group)
			switch {
			case g.Label != "":
				b.PushLabel(g.Label)
			case g.Pipe != "":
				b.PushPipe(g.Pipe, g.blocking(), grouping, goalop.Params(g.Params))
			default:
				b.PushGoalByName(g.Op, g.blocking(), grouping, goalop.Args(g.Args), goalop.Params(g.Params))
			}
		}
		if err := m.seal(b.pipe); err != nil {
			return nil, err
		}
		out = append(out, b.pipe)
	}
	return out, nil
}

// Reload loads paths and swaps the manager's templates in one step. On any
// error the current templates stay in place.
func Reload(m *Manager, paths []string) error {
	defs, err := LoadPaths(paths)
	if err != nil {
		return err
	}
	templates, err := defs.compile(m)
	if err != nil {
		return err
	}
	set := make(map[string]*GoalPipe, len(templates))
	for _, p := range templates {
		set[p.name] = p
	}
	m.Replace(set)
	return nil
}
