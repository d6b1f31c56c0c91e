package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/agent"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/config"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/logging"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/notify"
)

const (
	notifyDrainTimeout = 10 * time.Second
	// uploadLimit matches the webhook attachment ceiling.
	uploadLimit = 25 << 20
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cfg, path)
	},
}

func run(cfg *config.Config, path string) error {
	lg, err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer lg.Close()

	minLevel, err := zerolog.ParseLevel(strings.ToLower(cfg.Notify.MinLevel))
	if err != nil {
		return fmt.Errorf("notify.min_level: %w", err)
	}

	local := lg.Local()
	d := notify.NewDispatcher(notify.Options{
		Mention:     cfg.Notify.Mention,
		QueueSize:   cfg.Notify.QueueSize,
		UploadLimit: uploadLimit,
		Logger:      local,
	}, sinks(cfg, local)...)
	lg.Attach(notify.NewLogWriter(d, minLevel))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyDrainTimeout)
		defer cancel()
		if err := d.Close(ctx); err != nil {
			local.Warn().Err(err).Msg("notifier not drained")
		}
	}()

	log.Debug().Str("config", path).Strs("sinks", d.Sinks()).Msg("configuration loaded")

	a, err := agent.New(cfg, d)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("bye")
	return nil
}

// sinks dials every configured sink. A sink that cannot be reached is left out.
func sinks(cfg *config.Config, local zerolog.Logger) []notify.Sink {
	var out []notify.Sink
	if url := cfg.Notify.Discord.WebhookURL; url != "" {
		out = append(out, notify.NewDiscordSink(notify.DiscordOptions{
			WebhookURL:   url,
			MessageLimit: cfg.Notify.Discord.MessageLimit,
		}))
	}
	if url := cfg.Notify.NATS.URL; url != "" {
		s, err := notify.DialNATS(notify.NATSOptions{
			URL:      url,
			Subject:  cfg.Notify.NATS.Subject,
			Codename: cfg.Codename,
			Logger:   local,
		})
		if err != nil {
			local.Error().Err(err).Msg("nats sink disabled")
		} else {
			out = append(out, s)
		}
	}
	if broker := cfg.Notify.MQTT.Broker; broker != "" {
		s, err := notify.DialMQTT(notify.MQTTOptions{
			Broker:   broker,
			Topic:    cfg.Notify.MQTT.Topic,
			ClientID: cfg.Notify.MQTT.ClientID,
			QoS:      byte(cfg.Notify.MQTT.QoS),
			Codename: cfg.Codename,
			Logger:   local,
		})
		if err != nil {
			local.Error().Err(err).Msg("mqtt sink disabled")
		} else {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		local.Warn().Msg("no notification sink configured, logging locally only")
	}
	return out
}
