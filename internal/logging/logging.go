// Package logging configures the global zerolog logger: console, a rotating
// file and, once attached, the notifier.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirror the [log] config section.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    io.Writer // defaults to os.Stderr
}

// Logging owns the writers behind the global logger.
type Logging struct {
	mu    sync.Mutex
	level zerolog.Level
	local []io.Writer // console and file
	extra []io.Writer
	file  *lumberjack.Logger
}

// Setup installs console and file output on the global logger.
func Setup(opts Options) (*Logging, error) {
	level := zerolog.DebugLevel
	if opts.Level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, err
		}
		level = lvl
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	l := &Logging{level: level}
	l.local = append(l.local, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"})
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		l.local = append(l.local, l.file)
	}
	l.install()
	return l, nil
}

// Local returns a logger writing only to console and file. Notifier failures
// are reported on it so they never loop back into the notifier.
func (l *Logging) Local() zerolog.Logger {
	return zerolog.New(zerolog.MultiLevelWriter(l.local...)).
		Level(l.level).
		With().Timestamp().Str("component", "notify").Logger()
}

// Attach adds w as an extra destination of the global logger.
func (l *Logging) Attach(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extra = append(l.extra, w)
	l.install()
}

func (l *Logging) install() {
	writers := append(append([]io.Writer{}, l.local...), l.extra...)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(l.level).
		With().Timestamp().Logger()
}

// Close flushes and closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
