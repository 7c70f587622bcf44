package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/goalpipe/internal/config"
	bus "github.com/zeusync/goalpipe/internal/core/events/bus"
	"github.com/zeusync/goalpipe/internal/core/goalpipe"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
	"github.com/zeusync/goalpipe/internal/core/scheduler"
)

const statsInterval = 30 * time.Second

// Runtime is a fully wired goal pipe process.
type Runtime struct {
	Config    *config.Config
	Logger    *log.Logger
	Manager   *goalpipe.Manager
	Events    bus.EventBus
	Scheduler *scheduler.Scheduler

	mu     sync.Mutex
	counts map[bus.Type]uint64
}

func NewRuntime(cfg *config.Config, logger *log.Logger, m *goalpipe.Manager, events bus.EventBus, s *scheduler.Scheduler) *Runtime {
	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		Manager:   m,
		Events:    events,
		Scheduler: s,
		counts:    make(map[bus.Type]uint64),
	}
}

// Run restores saved state, ticks the scheduler until ctx is done and saves
// the state again on the way out. With pipe watching enabled, definition
// changes are reloaded while running.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Restore(); err != nil {
		return err
	}
	sub, err := r.Events.Subscribe("", r.record)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Cancel() }()

	g, gctx := errgroup.WithContext(ctx)
	if r.Config.Pipes.Watch {
		g.Go(func() error {
			return goalpipe.Watch(gctx, r.Manager, r.Config.Pipes.Paths, nil)
		})
	}
	g.Go(func() error {
		r.reportStats(gctx)
		return nil
	})
	g.Go(func() error {
		return r.Scheduler.Run(gctx)
	})

	err = g.Wait()
	r.logStats()
	return errors.Join(err, r.Save())
}

func (r *Runtime) record(e bus.Event) error {
	r.mu.Lock()
	r.counts[e.Type]++
	r.mu.Unlock()
	if e.Type == bus.ContentError {
		r.Logger.Warn("goal pipe content error", log.Agent(e.Agent), log.Pipe(e.Pipe), log.Error(e.Err))
	}
	return nil
}

// EventCount reports how many events of typ were published since Run.
func (r *Runtime) EventCount(typ bus.Type) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[typ]
}

func (r *Runtime) reportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logStats()
		}
	}
}

func (r *Runtime) logStats() {
	st, err := r.Scheduler.Stats()
	fields := st.Fields()
	fields = append(fields,
		log.Uint64("pipes_finished", r.EventCount(bus.PipeFinished)),
		log.Uint64("content_errors", r.EventCount(bus.ContentError)),
	)
	if err != nil {
		fields = append(fields, log.Error(err))
	}
	r.Logger.Info("scheduler stats", fields...)
}

// Restore loads the configured state file. A missing file is not an error.
func (r *Runtime) Restore() error {
	path := r.Config.Scheduler.StateFile
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.Logger.Info("no saved state", log.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if err := r.Scheduler.Restore(data); err != nil {
		return fmt.Errorf("restore state %s: %w", path, err)
	}
	r.Logger.Info("state restored", log.String("path", path), log.Int("agents", r.Scheduler.Len()))
	return nil
}

// Save replaces the configured state file with a scheduler snapshot. The
// file is swapped in by rename.
func (r *Runtime) Save() error {
	path := r.Config.Scheduler.StateFile
	if path == "" {
		return nil
	}
	data, err := r.Scheduler.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	r.Logger.Info("state saved", log.String("path", path), log.Int("bytes", len(data)))
	return nil
}

// groupedGoals counts the goals of p that belong to a retry group.
func groupedGoals(p *goalpipe.GoalPipe) int {
	n := 0
	for i := range p.Len() {
		if p.Goal(i).Grouping != goalpipe.NoGroup {
			n++
		}
	}
	return n
}

// Inspect prints the registered pipes and the scheduled agents.
func (r *Runtime) Inspect(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPE\tGOALS\tGROUPED\tLOOP\tSIGNATURE")
	for _, name := range r.Manager.Names() {
		p := r.Manager.IsGoalPipe(name)
		if p == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%016x\n", p.Name(), p.Len(), groupedGoals(p), p.Loop(), p.Signature())
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "AGENT\tPIPE\tCURSOR\tDEPTH\tACTIVE\tFINISHED")
	for _, a := range r.Scheduler.Agents() {
		pipe, cursor, depth := "-", 0, 0
		if p := a.Pipe(); p != nil {
			chain := p.Chain()
			pipe, cursor, depth = p.Name(), chain[len(chain)-1].Cursor(), len(chain)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%t\n", a.ID(), pipe, cursor, depth, len(a.Active()), a.Finished())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	st, err := r.Scheduler.Stats()
	if err != nil {
		_, werr := fmt.Fprintf(w, "\nprocess stats unavailable: %v\n", err)
		return werr
	}
	_, err = fmt.Fprintf(w, "\nrss=%d cpu=%.1f%% goroutines=%d system_mem_used=%.1f%%\n",
		st.RSS, st.CPUPercent, st.Goroutines, st.SystemMemUsed)
	return err
}
