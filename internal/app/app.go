// Package app wires a runner and its optional history store from
// configuration for the command-line entry points.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/history"
	"github.com/michaelbrown/crucible/internal/history/sqlite"
	"github.com/michaelbrown/crucible/internal/project"
	"github.com/michaelbrown/crucible/internal/runner"
	"github.com/michaelbrown/crucible/internal/toolchain"
)

// App is everything a command needs to execute requests.
type App struct {
	Runner *runner.Runner
	Store  history.Store // nil unless storage.enabled

	closers []func() error
}

// Close releases the invoker backend and the store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// New wires the runner from configuration: the invoker backend, the project
// root and, when enabled, the history store.
func New(c *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	var inv toolchain.Invoker
	switch c.Toolchain.Backend {
	case config.BackendDocker:
		ci, err := toolchain.NewContainerInvoker(c.Toolchain.Binary, toolchain.ContainerConfig{
			Image:       c.Docker.Image,
			Workdir:     c.Docker.Workdir,
			MemoryBytes: c.Docker.Memory,
			CPUs:        c.Docker.CPUs,
			Network:     c.Docker.Network,
			Pull:        c.Docker.Pull,
			Env:         c.Toolchain.Env,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ci.Close)
		inv = ci
	default:
		inv = toolchain.NewProcessInvoker(c.Toolchain.Binary, c.Toolchain.Env, logger)
	}

	opts := []runner.Option{
		runner.WithTimeout(c.Toolchain.Timeout),
		runner.WithLogger(logger),
	}
	if c.Storage.Enabled {
		store, err := sqlite.Open(c.Storage.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
		opts = append(opts, runner.WithRecorder(store))
	}

	a.Runner = runner.New(project.NewMaterializer(c.Toolchain.TempRoot), inv, nil, opts...)
	return a, nil
}

// OpenStore opens the history database regardless of storage.enabled.
func OpenStore(c *config.Config) (history.Store, error) {
	return sqlite.Open(c.Storage.DBPath)
}
