package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/demand"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every component in one long-lived process",
	Long: `Run the status API, health and metrics endpoints, the launcher and the
reconciler in one process. Components talk over an in-process event bus:
demand signals from the DNS listener and task state changes from the
platform are published on it and consumed one at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)
	w := cfg.Workload()

	d, err := openDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	bus, err := events.NewBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	recon := d.reconciler(cfg)
	bus.HandleDemand("launcher", d.launcher(cfg, "launcher").HandleSignal)
	bus.HandleTaskState("reconciler", recon.HandleEvent)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(ctx)
	})

	// The Go channel pub/sub drops messages published before the
	// handlers are subscribed
	select {
	case <-bus.Running():
		metrics.RegisterComponent(metrics.ComponentBus, true, "running")
	case <-ctx.Done():
		return g.Wait()
	}

	srv := api.NewServer(d.status(cfg, false))
	g.Go(func() error {
		return srv.Start(cfg.ListenAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.DNSListen != "" {
		listener, err := demand.NewListener(demand.ListenerConfig{
			ListenAddr: cfg.DNSListen,
			AnswerIP:   cfg.DNSAnswerIP,
			Upstream:   cfg.DNSUpstream,
		}, demand.NewMatcher(cfg.Hostname()), func(sig types.DemandSignal) {
			if err := bus.PublishDemand(sig); err != nil {
				logger.Error().Err(err).Msg("failed to publish demand signal")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to create DNS listener: %w", err)
		}
		metrics.RegisterComponent(metrics.ComponentDNS, true, "listening on "+cfg.DNSListen)
		g.Go(func() error {
			return listener.ListenAndServe(ctx)
		})
	}

	if d.docker != nil {
		g.Go(func() error {
			return d.docker.Watch(ctx, w, func(change types.TaskStateChange) {
				if err := bus.PublishTaskState(change); err != nil {
					logger.Error().Err(err).Msg("failed to publish task state change")
				}
			})
		})
	}

	collector := metrics.NewCollector(w, d.platform, d.store, cfg.SampleInterval)
	collector.Start()
	defer collector.Stop()

	recon.Start(cfg.ResyncInterval)
	defer recon.Stop()

	logger.Info().
		Str("workload", w.String()).
		Str("platform", cfg.Platform).
		Str("state_backend", cfg.StateBackend).
		Str("listen", cfg.ListenAddr).
		Msg("burrow serving")

	return g.Wait()
}
