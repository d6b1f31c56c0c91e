package runner

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog/log"
)

// lineWriter forwards child output to the logger one line at a time.
type lineWriter struct {
	name   string
	stream string
	mu     sync.Mutex
	buf    bytes.Buffer
}

func newLineWriter(name, stream string) *lineWriter {
	return &lineWriter{name: name, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		w.emit(line[:i])
	}
	return len(p), nil
}

// Flush logs a trailing partial line, if any.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	log.Debug().Str("process", w.name).Str("stream", w.stream).Msg(string(line))
}
