package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/state"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/watchdog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the game server is running",
	Long: `Show whether the game server is running. With --url the status endpoint
of a deployed burrow is queried; otherwise the platform is read directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		asJSON, _ := cmd.Flags().GetBool("json")

		fn, closeFn, err := statusFunc(cmd.Context(), url)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := fn(cmd.Context())
		if err != nil {
			return err
		}
		return printStatus(st, asJSON)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the game server as if a player had looked it up",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wait, _ := cmd.Flags().GetBool("wait")
		url, _ := cmd.Flags().GetString("url")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		d, err := openDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		res, err := d.launcher(cfg, "cli").Launch(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Launch %s\n", res)

		if !wait {
			return nil
		}

		fn := client.StatusFunc(d.status(cfg, true).Query)
		if url != "" {
			fn = client.NewClient(url).Status
		}

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fmt.Println("Waiting for the server to come up...")
		st, err := client.Wait(waitCtx, fn, client.DefaultWaitOptions())
		if err != nil {
			return fmt.Errorf("server did not start: %w", err)
		}
		return printStatus(st, false)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Scale the game server to zero now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		d, err := openDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		stopped, err := watchdog.New(watchdog.Config{
			Workload: cfg.Workload(),
			Services: d.platform,
			Store:    d.store,
			Actor:    config.Actor("cli"),
		}).Shutdown(ctx)
		if err != nil {
			return err
		}
		if !stopped {
			return fmt.Errorf("a launch is in progress, not stopping")
		}
		fmt.Println("✓ Desired count set to 0")
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the lifecycle state of the workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		d, err := openDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		w := cfg.Workload()
		if d.store == nil {
			desired, err := d.platform.DesiredCount(ctx, w)
			if err != nil {
				return err
			}
			tasks, err := d.platform.ListTasks(ctx, w)
			if err != nil {
				return err
			}
			fmt.Printf("State:    %s (derived, no state backend)\n", state.Derive(desired, tasks))
			fmt.Printf("Desired:  %d\n", desired)
			fmt.Printf("Tasks:    %d\n", len(tasks))
			return nil
		}

		rec, err := d.store.Get(ctx, w)
		if err != nil {
			return err
		}
		fmt.Printf("State:    %s\n", rec.State)
		fmt.Printf("Revision: %d\n", rec.Revision)
		if !rec.UpdatedAt.IsZero() {
			fmt.Printf("Updated:  %s by %s\n", rec.UpdatedAt.Format(time.RFC3339), rec.UpdatedBy)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("url", "", "Base URL of a burrow status endpoint")
	statusCmd.Flags().Bool("json", false, "Print the raw JSON answer")

	startCmd.Flags().Bool("wait", false, "Wait until the server reports running")
	startCmd.Flags().String("url", "", "Poll this status endpoint instead of the platform")
	startCmd.Flags().Duration("timeout", 10*time.Minute, "Maximum time to wait with --wait")
}

// statusFunc returns a remote or local status source and its cleanup
func statusFunc(ctx context.Context, url string) (client.StatusFunc, func(), error) {
	if url != "" {
		return client.NewClient(url).Status, func() {}, nil
	}

	d, err := openDeps(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return d.status(cfg, true).Query, func() { _ = d.Close() }, nil
}

func printStatus(st *types.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	running := "no"
	if st.Running {
		running = "yes"
	}
	fmt.Printf("Running:   %s\n", running)
	fmt.Printf("Tasks:     %d\n", st.TaskCount)
	if st.State != "" {
		fmt.Printf("State:     %s\n", st.State)
	}
	if st.PublicIP != "" {
		fmt.Printf("Public IP: %s\n", st.PublicIP)
	}
	return nil
}
