package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
codename = "alpha"

[process]
command = "./start.sh"
args = ["--nogui"]
working_dir = "/srv/alpha"
name = "java"
open_files = 4096

[process.env]
JAVA_OPTS = "-Xmx8G"

[limits]
max_memory = "8GiB"
max_uptime = "6h"

[timing]
prior_kill = "90s"
prior_kill_last_warning = "15s"

[backup]
command = "./backup.sh"
data_path = "/srv/alpha/backup.tar.gz"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "alpha", cfg.Codename)
	assert.Equal(t, "./start.sh", cfg.Process.Command)
	assert.Equal(t, []string{"--nogui"}, cfg.Process.Args)
	assert.Equal(t, "java", cfg.Process.Name)
	assert.Equal(t, uint64(4096), cfg.Process.OpenFiles)
	assert.Equal(t, []string{"JAVA_OPTS=-Xmx8G"}, cfg.Process.Environ())
	assert.Equal(t, ByteSize(8<<30), cfg.Limits.MaxMemory)
	assert.Equal(t, 6*time.Hour, cfg.Limits.MaxUptime.Std())
	assert.Equal(t, 90*time.Second, cfg.Timing.PriorKill.Std())
	assert.Equal(t, 15*time.Second, cfg.Timing.PriorKillLastWarning.Std())

	// untouched defaults survive decoding
	assert.True(t, cfg.Process.CaptureOutput)
	assert.True(t, cfg.Backup.Enabled)
	assert.True(t, cfg.Backup.UploadData)
	assert.Equal(t, 60*time.Second, cfg.Timing.MonitorInterval.Std())
	assert.Equal(t, 3, cfg.Timing.StartAttempts)
	assert.Equal(t, 1997, cfg.Notify.Discord.MessageLimit)

	// derived from codename
	assert.Equal(t, "alpha.log", cfg.Log.File)
	assert.Equal(t, "alpha-backup.log", cfg.Backup.LogPath)
	assert.Equal(t, "svmgr.alpha", cfg.Notify.NATS.Subject)
	assert.Equal(t, "svmgr/alpha", cfg.Notify.MQTT.Topic)
	assert.Equal(t, "alpha supervisor online", cfg.Expand(cfg.Notify.StartMessage))
}

func TestParse_SchemaError(t *testing.T) {
	_, err := Parse([]byte("[process]\nargs = [\"x\"]\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate_LastWarningExceedsPriorKill(t *testing.T) {
	cfg := Default()
	cfg.Process.Command = "./start.sh"
	cfg.Backup.Enabled = false
	cfg.Timing.PriorKill = Duration(10 * time.Second)
	cfg.Timing.PriorKillLastWarning = Duration(20 * time.Second)
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "prior_kill_last_warning")
}

func TestValidate_BackupNeedsCommand(t *testing.T) {
	cfg := Default()
	cfg.Process.Command = "./start.sh"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup.command")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SVMGR_DISCORD_WEBHOOK_URL": "https://discord.example/api/webhooks/1/x",
		"SVMGR_MENTION":             "<@123>",
		"SVMGR_HTTP_ENABLED":        "false",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	assert.Equal(t, env["SVMGR_DISCORD_WEBHOOK_URL"], cfg.Notify.Discord.WebhookURL)
	assert.Equal(t, "<@123>", cfg.Notify.Mention)
	assert.False(t, cfg.HTTP.Enabled)
}

func TestLoad_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "svmgr.toml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "alpha", cfg.Codename)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestByteSize_Text(t *testing.T) {
	var s ByteSize
	require.NoError(t, s.UnmarshalText([]byte("512 MiB")))
	assert.Equal(t, ByteSize(512<<20), s)
	assert.Error(t, s.UnmarshalText([]byte("many")))
}

func TestLoadDotEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("# comment\nexport SVMGR_TEST_A=\"one two\"\nSVMGR_TEST_B=2\nSVMGR_TEST_C=x # note\n"), 0o644))
	t.Setenv("SVMGR_TEST_A", "")
	os.Unsetenv("SVMGR_TEST_A")
	t.Setenv("SVMGR_TEST_B", "keep")
	t.Setenv("SVMGR_TEST_C", "")
	os.Unsetenv("SVMGR_TEST_C")

	require.NoError(t, LoadDotEnv(p, false))
	assert.Equal(t, "one two", os.Getenv("SVMGR_TEST_A"))
	assert.Equal(t, "keep", os.Getenv("SVMGR_TEST_B"))
	assert.Equal(t, "x", os.Getenv("SVMGR_TEST_C"))
}

func TestParseDotEnv_Malformed(t *testing.T) {
	for in, want := range map[string]string{
		"A=1\nnot a pair\n": "line 2: missing '='",
		"1BAD=x\n":          "invalid variable name",
		"A=\"open\n":        "unterminated quote",
	} {
		_, err := ParseDotEnv(strings.NewReader(in))
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadDotEnv_ReportsPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("oops\n"), 0o644))
	err := LoadDotEnv(p, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), p)
}

func TestDotEnvPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvFileVar, "")
	paths := DotEnvPaths(filepath.Join(dir, "svmgr.toml"))
	require.NotEmpty(t, paths)
	assert.Equal(t, filepath.Join(dir, ".env"), paths[0])

	t.Setenv(EnvFileVar, "/etc/svmgr/env")
	assert.Equal(t, []string{"/etc/svmgr/env"}, DotEnvPaths(filepath.Join(dir, "svmgr.toml")))
}

func TestLoadDotEnvFor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SVMGR_TEST_D=beside\n"), 0o644))
	t.Setenv(EnvFileVar, "")
	t.Setenv("SVMGR_TEST_D", "")
	os.Unsetenv("SVMGR_TEST_D")

	loaded := LoadDotEnvFor(filepath.Join(dir, "svmgr.toml"))
	assert.Contains(t, loaded, filepath.Join(dir, ".env"))
	assert.Equal(t, "beside", os.Getenv("SVMGR_TEST_D"))

	t.Setenv(EnvFileVar, filepath.Join(dir, "missing.env"))
	assert.Empty(t, LoadDotEnvFor(filepath.Join(dir, "svmgr.toml")))
}
