package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/units"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long:  `Load the configuration, apply defaults and environment overrides, validate it and print a summary`,
	Run:   runCheckConfig,
}

func runCheckConfig(cmd *cobra.Command, args []string) {
	cfg, path, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration invalid: %v\n", err)
		os.Exit(1)
	}

	sinks := []string{}
	if cfg.Notify.Discord.WebhookURL != "" {
		sinks = append(sinks, "discord")
	}
	if cfg.Notify.NATS.URL != "" {
		sinks = append(sinks, "nats "+cfg.Notify.NATS.Subject)
	}
	if cfg.Notify.MQTT.Broker != "" {
		sinks = append(sinks, "mqtt "+cfg.Notify.MQTT.Topic)
	}

	fmt.Printf("✅ Configuration is valid: %s\n", path)
	fmt.Printf("   Codename: %s\n", cfg.Codename)
	fmt.Printf("   Command: %s %v\n", cfg.Process.Command, cfg.Process.Args)
	if cfg.Process.Name != "" {
		fmt.Printf("   Target: %s\n", cfg.Process.Name)
	}
	fmt.Printf("   Limits: memory %s, uptime %s\n",
		units.Size(uint64(cfg.Limits.MaxMemory)), units.Duration(cfg.Limits.MaxUptime.Std()))
	fmt.Printf("   Monitor: every %s, kill warning %s (last %s)\n",
		cfg.Timing.MonitorInterval.Std(), cfg.Timing.PriorKill.Std(), cfg.Timing.PriorKillLastWarning.Std())
	if cfg.Backup.Enabled {
		fmt.Printf("   Backup: %s every %s\n", cfg.Backup.Command, cfg.Timing.BackupInterval.Std())
	} else {
		fmt.Println("   Backup: disabled")
	}
	fmt.Printf("   Notify: %v (min level %s)\n", sinks, cfg.Notify.MinLevel)
	if cfg.HTTP.Enabled {
		fmt.Printf("   HTTP API: %s\n", cfg.HTTP.Addr)
	}
	fmt.Printf("   Log: %s (level %s)\n", cfg.Log.File, cfg.Log.Level)
}
