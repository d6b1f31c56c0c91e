package notify

import (
	"bytes"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogWriter is a zerolog.LevelWriter that renders events in console form and
// emits them through a Dispatcher.
type LogWriter struct {
	d       *Dispatcher
	min     zerolog.Level
	mu      sync.Mutex
	buf     bytes.Buffer
	console zerolog.ConsoleWriter
}

var _ zerolog.LevelWriter = (*LogWriter)(nil)

// NewLogWriter forwards events at or above min to d.
func NewLogWriter(d *Dispatcher, min zerolog.Level) *LogWriter {
	w := &LogWriter{d: d, min: min}
	w.console = zerolog.ConsoleWriter{
		Out:        &w.buf,
		NoColor:    true,
		TimeFormat: "15:04:05",
		PartsOrder: []string{zerolog.MessageFieldName},
		FieldsExclude: []string{
			zerolog.TimestampFieldName,
		},
	}
	return w
}

func (w *LogWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *LogWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if level < w.min || level == zerolog.Disabled {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Reset()
	if _, err := w.console.Write(p); err != nil {
		// not a JSON event; forward it verbatim
		w.buf.Reset()
		w.buf.Write(p)
	}
	text := strings.TrimRight(w.buf.String(), "\n")
	if text != "" {
		w.d.Emit(level, text)
	}
	return len(p), nil
}
