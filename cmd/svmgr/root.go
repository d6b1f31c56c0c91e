package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/config"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/version"
)

var cfgFile string

// rootCmd runs the supervisor when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "svmgr",
	Short: "Supervisor for a single long-running server process",
	Long: `svmgr keeps one server process alive.

It starts the server through its launcher, restarts it when it dies or when
its memory or uptime crosses the configured ceilings, runs the backup program
around restarts and reports everything to Discord, NATS or MQTT.

Examples:
  svmgr                         # run with ./svmgr.toml
  svmgr run -c /etc/svmgr.toml  # run with an explicit config
  svmgr check-config            # validate the config and exit`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to configuration file (default: SVMGR_CONFIG or ./svmgr.toml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

// configPath resolves --config > SVMGR_CONFIG > default.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("SVMGR_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}

// loadConfig reads the .env files around the config first so their values
// can override config keys. SVMGR_CONFIG set by one of them still applies.
func loadConfig() (*config.Config, string, error) {
	config.LoadDotEnvFor(configPath())
	path := configPath()
	cfg, err := config.Load(path)
	return cfg, path, err
}
