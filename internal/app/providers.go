// Package app assembles the goal pipe runtime from a configuration: logger,
// operation factories, pipe templates, event bus and scheduler.
package app

import (
	"fmt"

	"github.com/google/wire"

	"github.com/zeusync/goalpipe/internal/config"
	"github.com/zeusync/goalpipe/internal/core/agent"
	"github.com/zeusync/goalpipe/internal/core/blackboard"
	bus "github.com/zeusync/goalpipe/internal/core/events/bus"
	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/goalops"
	"github.com/zeusync/goalpipe/internal/core/goalpipe"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
	"github.com/zeusync/goalpipe/internal/core/scheduler"
)

// ProviderSet is the runtime graph consumed by the injector.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideRegistry,
	ProvideTreeFactory,
	ProvideOrdering,
	ProvideManager,
	ProvideEventBus,
	ProvideScheduler,
	NewRuntime,
)

func ProvideLogger(cfg *config.Config) *log.Logger {
	if cfg.Log.Development {
		return log.NewDevelopment(cfg.Log.ParsedLevel())
	}
	return log.New(cfg.Log.ParsedLevel())
}

// ProvideRegistry returns the game operation registry with the built-in
// operations installed.
func ProvideRegistry(logger log.Log, trees *goalops.TreeFactory) (*goalop.Registry, error) {
	reg := goalop.NewRegistry(logger)
	if err := RegisterBuiltins(reg, trees); err != nil {
		return nil, fmt.Errorf("register built-in operations: %w", err)
	}
	return reg, nil
}

func ProvideTreeFactory() *goalops.TreeFactory {
	return goalops.NewTreeFactory()
}

// ProvideOrdering consults the registry first, then behavior trees.
func ProvideOrdering(reg *goalop.Registry, trees *goalops.TreeFactory) *goalop.Ordering {
	return goalop.NewOrdering(reg, trees)
}

// ProvideManager loads and registers every definition file under the
// configured paths.
func ProvideManager(cfg *config.Config, ordering *goalop.Ordering, logger log.Log) (*goalpipe.Manager, error) {
	m := goalpipe.NewManager(ordering, goalops.NewFactory(logger), logger)
	defs, err := goalpipe.LoadPaths(cfg.Pipes.Paths)
	if err != nil {
		return nil, fmt.Errorf("load goal pipes: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid goal pipes: %w", err)
	}
	if err := defs.Build(m); err != nil {
		return nil, fmt.Errorf("build goal pipes: %w", err)
	}
	logger.Info("goal pipes loaded", log.Strings("pipes", m.Names()))
	return m, nil
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

// ProvideScheduler builds the scheduler and spawns the configured agents.
func ProvideScheduler(cfg *config.Config, m *goalpipe.Manager, events bus.EventBus, logger log.Log) (*scheduler.Scheduler, error) {
	s := scheduler.New(m, events, logger, scheduler.Config{
		Interval: cfg.Scheduler.Interval.Duration,
		Workers:  cfg.Scheduler.Workers,
		MaxPops:  cfg.Scheduler.MaxPops,
	})
	for _, ac := range cfg.Agents {
		for _, id := range ac.IDs() {
			opts := agent.Options{ID: id, Blackboard: blackboard.New(ac.Blackboard)}
			if _, err := s.Spawn(opts, ac.Pipe); err != nil {
				return nil, fmt.Errorf("spawn agent %s: %w", id, err)
			}
		}
	}
	return s, nil
}
