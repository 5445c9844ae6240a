package main

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/demand"
	"github.com/cuemby/burrow/pkg/launcher"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/platform/aws"
	"github.com/cuemby/burrow/pkg/platform/docker"
	"github.com/cuemby/burrow/pkg/platform/memory"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/status"
)

// deps are the backends every command wires its components to
type deps struct {
	platform platform.Platform
	docker   *docker.Platform // set for the docker platform only
	store    state.Store      // nil without a lifecycle guard
}

func openDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{}

	switch cfg.Platform {
	case config.PlatformAWS:
		p, err := aws.NewFromConfig(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		d.platform = p
	case config.PlatformDocker:
		res := config.DefaultWorkload(cfg.Service)
		if cfg.WorkloadFile != "" {
			var err error
			res, err = config.LoadWorkload(cfg.WorkloadFile)
			if err != nil {
				return nil, err
			}
		}
		p, err := docker.NewFromEnv(ctx, res)
		if err != nil {
			return nil, err
		}
		d.platform = p
		d.docker = p
	case config.PlatformMemory:
		p := memory.New()
		p.AutoStart = true
		d.platform = p
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}

	store, err := state.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	d.store = store
	return d, nil
}

func (d *deps) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *deps) launcher(cfg *config.Config, component string) *launcher.Launcher {
	return launcher.New(launcher.Config{
		Workload: cfg.Workload(),
		Services: d.platform,
		Store:    d.store,
		Matcher:  demand.NewMatcher(cfg.Hostname()),
		Actor:    config.Actor(component),
	})
}

func (d *deps) reconciler(cfg *config.Config) *reconciler.Reconciler {
	return reconciler.NewReconciler(reconciler.Config{
		Workload:     cfg.Workload(),
		Platform:     d.platform,
		Store:        d.store,
		AllocationID: cfg.AllocationID,
		Actor:        config.Actor("reconciler"),
	})
}

func (d *deps) status(cfg *config.Config, derive bool) *status.Service {
	return status.NewService(status.Config{
		Workload:     cfg.Workload(),
		Platform:     d.platform,
		Store:        d.store,
		AllocationID: cfg.AllocationID,
		DeriveState:  derive,
	})
}
