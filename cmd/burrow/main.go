package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is resolved once before any command runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - scale-to-zero automation for a game server",
	Long: `Burrow wakes a game server when someone looks up its hostname, binds
its stable public address on every start, answers status queries and
scales it back to zero once nobody is playing.

Configuration comes from the environment (and an optional .env file).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		envFile, _ := cmd.Flags().GetString("env-file")

		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.ParseLevel(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
			Output:     os.Stderr,
		})
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Burrow version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before the environment")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(lambdaCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(stateCmd)
}
