package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/goalpipe/internal/app"
	"github.com/zeusync/goalpipe/internal/config"
	"github.com/zeusync/goalpipe/internal/injector"
)

// loadConfig reads the config file. A missing default file falls back to
// the built-in defaults.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(c.Config)
	if errors.Is(err, fs.ErrNotExist) && c.Config == defaultConfig {
		cfg, err = config.New(), nil
	}
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	return cfg, nil
}

func (r *RunCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if len(r.Pipes) > 0 {
		cfg.Pipes.Paths = r.Pipes
	}
	if r.Watch {
		cfg.Pipes.Watch = true
	}
	if r.StateFile != "" {
		cfg.Scheduler.StateFile = r.StateFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rt, err := injector.InitializeRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if r.For > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.For)
		defer cancel()
	}
	return rt.Run(ctx)
}

func (v *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if len(v.Paths) > 0 {
		cfg.Pipes.Paths = v.Paths
	}

	logger := app.ProvideLogger(cfg)
	defer func() { _ = logger.Sync() }()
	trees := app.ProvideTreeFactory()
	reg, err := app.ProvideRegistry(logger, trees)
	if err != nil {
		return err
	}
	m, err := app.ProvideManager(cfg, app.ProvideOrdering(reg, trees), logger)
	if err != nil {
		return err
	}
	out := cli.stdout()
	for _, name := range m.Names() {
		fmt.Fprintf(out, "ok  %s\n", name)
	}
	fmt.Fprintf(out, "%d goal pipes valid\n", m.Len())
	return nil
}

func (i *InspectCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	rt, err := injector.InitializeRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()

	if i.Restore {
		if err := rt.Restore(); err != nil {
			return err
		}
	}
	ctx := context.Background()
	for range i.Ticks {
		if err := rt.Scheduler.Tick(ctx); err != nil {
			return err
		}
	}
	return rt.Inspect(cli.stdout())
}

func (VersionCmd) Run(cli *CLI) error {
	_, err := fmt.Fprintf(cli.stdout(), "goalpipe version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return err
}
