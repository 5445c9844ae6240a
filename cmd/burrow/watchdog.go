package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/watchdog"
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Scale the workload to zero when nobody is playing",
	Long: `Run next to the game server inside the workload task. The watchdog waits
for the game port to answer, marks the workload RUNNING and then scales it
to zero after STARTUPMIN minutes without any player, or SHUTDOWNMIN
minutes after the last player left.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		skipProbe, _ := cmd.Flags().GetBool("skip-probe")

		d, err := openDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		counter, err := watchdog.NewCounter(cfg.GameProtocol, cfg.ProcRoot, cfg.GamePort)
		if err != nil {
			return err
		}

		var probe health.Checker
		if !skipProbe {
			probe, err = health.NewChecker(cfg.GameProtocol, cfg.GamePort, 3*time.Second)
			if err != nil {
				return err
			}
		}

		metrics.RegisterComponent(metrics.ComponentWatchdog, true, "monitoring")
		return watchdog.New(watchdog.Config{
			Workload:       cfg.Workload(),
			Services:       d.platform,
			Store:          d.store,
			Counter:        counter,
			Probe:          probe,
			Actor:          config.Actor("watchdog"),
			Interval:       cfg.WatchdogInterval,
			StartupWindow:  cfg.StartupWindow(),
			ShutdownWindow: cfg.ShutdownWindow(),
		}).Run(ctx)
	},
}

func init() {
	watchdogCmd.Flags().Bool("skip-probe", false, "Do not wait for the game port before monitoring")
}
