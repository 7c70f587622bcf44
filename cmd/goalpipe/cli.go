// Package main defines the goalpipe CLI using kong.
package main

import (
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

const defaultConfig = "goalpipe.toml"

// CLI defines the command-line interface.
type CLI struct {
	Config   string `short:"c" default:"goalpipe.toml" env:"GOALPIPE_CONFIG" help:"Config file path (TOML or YAML)"`
	LogLevel string `name:"log-level" env:"GOALPIPE_LOG_LEVEL" help:"Override the configured log level"`

	Run      RunCmd      `cmd:"" help:"Run the scheduler until interrupted"`
	Validate ValidateCmd `cmd:"" help:"Validate goal pipe definitions"`
	Inspect  InspectCmd  `cmd:"" help:"Show registered pipes and scheduled agents"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`

	out io.Writer `kong:"-"`
}

func (c *CLI) stdout() io.Writer {
	if c.out == nil {
		return os.Stdout
	}
	return c.out
}

// RunCmd runs the scheduler.
type RunCmd struct {
	Pipes     []string      `short:"p" env:"GOALPIPE_PIPES" help:"Pipe definition files or directories (overrides config)"`
	Watch     bool          `help:"Reload pipe definitions when they change"`
	StateFile string        `env:"GOALPIPE_STATE_FILE" help:"State file restored on start and saved on exit"`
	For       time.Duration `help:"Stop after this long, 0 runs until interrupted"`
}

// ValidateCmd checks definition files without running them.
type ValidateCmd struct {
	Paths []string `arg:"" optional:"" help:"Definition files or directories (default: configured paths)"`
}

// InspectCmd prints pipes and agents, optionally after a few ticks.
type InspectCmd struct {
	Ticks   int  `short:"t" default:"0" help:"Ticks to run before printing"`
	Restore bool `help:"Load the configured state file first"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
