package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"

	sysrt "github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runtime"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/validate"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "svmgr.toml"

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration decoded from strings like "90s" or "3h".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ByteSize is a byte count decoded from strings like "9GiB" or "512 MB".
type ByteSize uint64

func (s *ByteSize) UnmarshalText(b []byte) error {
	v, err := humanize.ParseBytes(string(b))
	if err != nil {
		return err
	}
	*s = ByteSize(v)
	return nil
}

func (s ByteSize) MarshalText() ([]byte, error) { return []byte(humanize.IBytes(uint64(s))), nil }

// Config is the whole supervisor configuration.
type Config struct {
	Codename string  `toml:"codename"`
	Process  Process `toml:"process"`
	Limits   Limits  `toml:"limits"`
	Timing   Timing  `toml:"timing"`
	Backup   Backup  `toml:"backup"`
	Notify   Notify  `toml:"notify"`
	Log      Log     `toml:"log"`
	HTTP     HTTP    `toml:"http"`
}

// Process describes the supervised program. Command usually points at a launcher
// script; Name is the executable searched for in the launcher's process tree.
type Process struct {
	Command        string            `toml:"command"`
	Args           []string          `toml:"args"`
	WorkingDir     string            `toml:"working_dir"`
	Env            map[string]string `toml:"env"`
	Name           string            `toml:"name"`
	CaptureOutput  bool              `toml:"capture_output"`
	GracefulSignal string            `toml:"graceful_signal"`
	OpenFiles      uint64            `toml:"open_files"`
}

type Limits struct {
	MaxMemory ByteSize `toml:"max_memory"`
	MaxUptime Duration `toml:"max_uptime"`
}

type Timing struct {
	MonitorInterval        Duration `toml:"monitor_interval"`
	PriorKill              Duration `toml:"prior_kill"`
	PriorKillLastWarning   Duration `toml:"prior_kill_last_warning"`
	StatisticsInterval     Duration `toml:"statistics_interval"`
	StatisticsInitialDelay Duration `toml:"statistics_initial_delay"`
	BackupInterval         Duration `toml:"backup_interval"`
	GracefulTimeout        Duration `toml:"graceful_timeout"`
	KillSettle             Duration `toml:"kill_settle"`
	SignalAttempts         int      `toml:"signal_attempts"`
	SignalInterval         Duration `toml:"signal_interval"`
	StartAttempts          int      `toml:"start_attempts"`
	StartRetryDelay        Duration `toml:"start_retry_delay"`
	ResolveAttempts        int      `toml:"resolve_attempts"`
	ResolveInterval        Duration `toml:"resolve_interval"`
}

type Backup struct {
	Enabled    bool     `toml:"enabled"`
	Command    string   `toml:"command"`
	Args       []string `toml:"args"`
	WorkingDir string   `toml:"working_dir"`
	LogPath    string   `toml:"log_path"`
	DataPath   string   `toml:"data_path"`
	UploadData bool     `toml:"upload_data"`
}

type Notify struct {
	MinLevel     string  `toml:"min_level"`
	Mention      string  `toml:"mention"`
	QueueSize    int     `toml:"queue_size"`
	StartMessage string  `toml:"start_message"`
	StopMessage  string  `toml:"stop_message"`
	Discord      Discord `toml:"discord"`
	NATS         NATS    `toml:"nats"`
	MQTT         MQTT    `toml:"mqtt"`
}

type Discord struct {
	WebhookURL   string `toml:"webhook_url"`
	MessageLimit int    `toml:"message_limit"`
}

type NATS struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

type MQTT struct {
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
	QoS      int    `toml:"qos"`
}

type Log struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type HTTP struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Default returns a config holding every static default. Values derived from the
// codename are filled by SetDefaults.
func Default() *Config {
	return &Config{
		Codename: "pate-trigger-sv-mgr",
		Process: Process{
			CaptureOutput:  true,
			GracefulSignal: "SIGINT",
		},
		Limits: Limits{
			MaxMemory: 9 << 30,
			MaxUptime: Duration(3 * time.Hour),
		},
		Timing: Timing{
			MonitorInterval:        Duration(60 * time.Second),
			PriorKill:              Duration(2 * time.Minute),
			PriorKillLastWarning:   Duration(20 * time.Second),
			StatisticsInterval:     Duration(60 * time.Second),
			StatisticsInitialDelay: Duration(10 * time.Second),
			BackupInterval:         Duration(20 * time.Minute),
			GracefulTimeout:        Duration(3 * time.Second),
			KillSettle:             Duration(time.Second),
			SignalAttempts:         3,
			SignalInterval:         Duration(100 * time.Millisecond),
			StartAttempts:          3,
			StartRetryDelay:        Duration(3 * time.Second),
			ResolveAttempts:        3,
			ResolveInterval:        Duration(time.Second),
		},
		Backup: Backup{
			Enabled:    true,
			UploadData: true,
		},
		Notify: Notify{
			MinLevel:     "info",
			QueueSize:    256,
			StartMessage: "{codename} supervisor online",
			StopMessage:  "{codename} supervisor offline",
			Discord:      Discord{MessageLimit: 1997},
			MQTT:         MQTT{QoS: 1},
		},
		Log: Log{
			Level:      "debug",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		HTTP: HTTP{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
	}
}

// Load reads path, validates it against the config schema, decodes it over the
// defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.ValidateConfigMap(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg := Default()
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected keys from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SVMGR_DISCORD_WEBHOOK_URL", &c.Notify.Discord.WebhookURL)
	str("SVMGR_MENTION", &c.Notify.Mention)
	str("SVMGR_NATS_URL", &c.Notify.NATS.URL)
	str("SVMGR_MQTT_BROKER", &c.Notify.MQTT.Broker)
	str("SVMGR_HTTP_ADDR", &c.HTTP.Addr)
	str("SVMGR_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("SVMGR_HTTP_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.HTTP.Enabled = b
		}
	}
}

// SetDefaults fills zero values, including names derived from the codename.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Codename == "" {
		c.Codename = d.Codename
	}
	if c.Process.GracefulSignal == "" {
		c.Process.GracefulSignal = d.Process.GracefulSignal
	}
	if c.Limits.MaxMemory == 0 {
		c.Limits.MaxMemory = d.Limits.MaxMemory
	}
	if c.Limits.MaxUptime == 0 {
		c.Limits.MaxUptime = d.Limits.MaxUptime
	}
	durs := []struct{ v, def *Duration }{
		{&c.Timing.MonitorInterval, &d.Timing.MonitorInterval},
		{&c.Timing.PriorKill, &d.Timing.PriorKill},
		{&c.Timing.StatisticsInterval, &d.Timing.StatisticsInterval},
		{&c.Timing.BackupInterval, &d.Timing.BackupInterval},
		{&c.Timing.GracefulTimeout, &d.Timing.GracefulTimeout},
		{&c.Timing.KillSettle, &d.Timing.KillSettle},
		{&c.Timing.SignalInterval, &d.Timing.SignalInterval},
		{&c.Timing.StartRetryDelay, &d.Timing.StartRetryDelay},
		{&c.Timing.ResolveInterval, &d.Timing.ResolveInterval},
	}
	for _, x := range durs {
		if *x.v <= 0 {
			*x.v = *x.def
		}
	}
	ints := []struct{ v, def *int }{
		{&c.Timing.SignalAttempts, &d.Timing.SignalAttempts},
		{&c.Timing.StartAttempts, &d.Timing.StartAttempts},
		{&c.Timing.ResolveAttempts, &d.Timing.ResolveAttempts},
		{&c.Notify.QueueSize, &d.Notify.QueueSize},
		{&c.Notify.Discord.MessageLimit, &d.Notify.Discord.MessageLimit},
		{&c.Log.MaxSizeMB, &d.Log.MaxSizeMB},
		{&c.Log.MaxBackups, &d.Log.MaxBackups},
	}
	for _, x := range ints {
		if *x.v <= 0 {
			*x.v = *x.def
		}
	}
	if c.Notify.MinLevel == "" {
		c.Notify.MinLevel = d.Notify.MinLevel
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.File == "" {
		c.Log.File = c.Codename + ".log"
	}
	if c.Backup.LogPath == "" {
		c.Backup.LogPath = c.Codename + "-backup.log"
	}
	if c.Notify.NATS.Subject == "" {
		c.Notify.NATS.Subject = "svmgr." + c.Codename
	}
	if c.Notify.MQTT.Topic == "" {
		c.Notify.MQTT.Topic = "svmgr/" + c.Codename
	}
	if c.Notify.MQTT.ClientID == "" {
		c.Notify.MQTT.ClientID = "svmgr-" + c.Codename
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
}

// Validate checks cross-field invariants that the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if strings.TrimSpace(c.Process.Command) == "" {
		bad("process.command is required")
	}
	if _, err := sysrt.ParseSignal(c.Process.GracefulSignal); err != nil {
		bad("process.graceful_signal: %v", err)
	}
	if c.Timing.PriorKillLastWarning > c.Timing.PriorKill {
		bad("timing.prior_kill_last_warning (%s) exceeds timing.prior_kill (%s)",
			c.Timing.PriorKillLastWarning.Std(), c.Timing.PriorKill.Std())
	}
	if c.Timing.PriorKillLastWarning < 0 {
		bad("timing.prior_kill_last_warning must not be negative")
	}
	if c.Backup.Enabled && c.Backup.Command == "" {
		bad("backup.command is required when backup is enabled")
	}
	if c.Notify.MQTT.QoS < 0 || c.Notify.MQTT.QoS > 2 {
		bad("notify.mqtt.qos must be 0, 1, or 2")
	}
	if c.Notify.Discord.MessageLimit < 16 {
		bad("notify.discord.message_limit must be at least 16")
	}
	return errors.Join(errs...)
}

// Environ renders Process.Env as sorted KEY=VALUE pairs.
func (p Process) Environ() []string {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+p.Env[k])
	}
	return out
}

// Expand substitutes {codename} in notifier templates.
func (c *Config) Expand(s string) string {
	return strings.ReplaceAll(s, "{codename}", c.Codename)
}
