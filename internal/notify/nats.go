package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSOptions configure the NATS sink. Lines go to <Subject>.log and upload
// announcements to <Subject>.files.
type NATSOptions struct {
	URL      string
	Subject  string
	Codename string
	Logger   zerolog.Logger
}

type NATSSink struct {
	opts NATSOptions
	conn *nats.Conn
}

// DialNATS connects with unlimited reconnects. An error means the sink should
// be left out; the supervisor runs fine without it.
func DialNATS(opts NATSOptions) (*NATSSink, error) {
	logger := opts.Logger
	conn, err := nats.Connect(opts.URL,
		nats.Name("svmgr-"+opts.Codename),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", opts.URL, err)
	}
	return &NATSSink{opts: opts, conn: conn}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, msg Message) error {
	b, err := encodeLog(s.opts.Codename, msg)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.opts.Subject+".log", b); err != nil {
		return err
	}
	return s.flush(ctx)
}

func (s *NATSSink) Upload(ctx context.Context, files []File) error {
	for _, f := range files {
		b, err := encodeFile(s.opts.Codename, f)
		if err != nil {
			return err
		}
		if err := s.conn.Publish(s.opts.Subject+".files", b); err != nil {
			return err
		}
	}
	return s.flush(ctx)
}

// flush waits for the server ack; FlushWithContext needs a deadline.
func (s *NATSSink) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return s.conn.FlushWithContext(ctx)
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
