//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/goalpipe/internal/app"
	"github.com/zeusync/goalpipe/internal/config"
)

// InitializeRuntime wires a runtime for cfg.
func InitializeRuntime(cfg *config.Config) (*app.Runtime, error) {
	wire.Build(app.ProviderSet)
	return nil, nil
}
