// Package notify delivers supervisor log lines and backup files to chat and
// messaging sinks without ever blocking the supervision loop.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/metrics"
)

// ErrClosed is returned by Upload after Close.
var ErrClosed = errors.New("notifier closed")

// Message is one formatted line handed to the sinks.
type Message struct {
	Level zerolog.Level
	Text  string
	Time  time.Time
}

// File is an attachment read into memory.
type File struct {
	Name string
	Data []byte
}

// Sink is one delivery target. Sinks handle their own retries and chunking.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Upload(ctx context.Context, files []File) error
	Close() error
}

// Options tune a Dispatcher.
type Options struct {
	Mention     string
	QueueSize   int
	SendTimeout time.Duration
	UploadLimit int64 // bytes per file, 0 means unlimited
	Logger      zerolog.Logger
}

// Dispatcher queues messages and fans them out to every sink from a single
// worker, preserving order. Failures are logged on Options.Logger, which must
// not write back into the dispatcher.
type Dispatcher struct {
	sinks   []Sink
	opts    Options
	queue   chan Message
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	closeMu sync.Once
}

func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		sinks: sinks,
		opts:  opts,
		queue: make(chan Message, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Emit formats and queues text. It never blocks: when the queue is full or
// closed the message is dropped and false is returned.
func (d *Dispatcher) Emit(level zerolog.Level, text string) bool {
	msg := Message{Level: level, Text: Format(level, text, d.opts.Mention), Time: time.Now()}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.IncNotifyDropped()
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		metrics.IncNotifyDropped()
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
			if err := s.Send(ctx, msg); err != nil {
				metrics.IncNotifyFailure(s.Name())
				d.opts.Logger.Warn().Err(err).Str("sink", s.Name()).Msg("notify send failed")
			}
			cancel()
		}
	}
}

// Upload reads the files and hands them to every sink. Missing files are
// skipped. It returns the joined sink errors after logging them.
func (d *Dispatcher) Upload(ctx context.Context, paths ...string) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		f, err := d.readFile(p)
		if err != nil {
			d.opts.Logger.Warn().Err(err).Str("path", p).Msg("upload skipped")
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil
	}
	var errs []error
	for _, s := range d.sinks {
		if err := s.Upload(ctx, files); err != nil {
			metrics.IncNotifyFailure(s.Name())
			d.opts.Logger.Warn().Err(err).Str("sink", s.Name()).Int("files", len(files)).Msg("notify upload failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) readFile(path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if st.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	if d.opts.UploadLimit > 0 && st.Size() > d.opts.UploadLimit {
		return File{}, fmt.Errorf("%s is %d bytes, over the %d byte upload limit", path, st.Size(), d.opts.UploadLimit)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// Close stops accepting messages, drains the queue until ctx expires and then
// closes every sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	var err error
	d.closeMu.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		select {
		case <-d.done:
		case <-ctx.Done():
			err = fmt.Errorf("drain notifier queue: %w", ctx.Err())
		}
		for _, s := range d.sinks {
			if cerr := s.Close(); cerr != nil {
				d.opts.Logger.Warn().Err(cerr).Str("sink", s.Name()).Msg("close sink failed")
			}
		}
	})
	return err
}
