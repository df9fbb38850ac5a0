// Package subscriber implements registry.Subscriber on top of a
// buffer.Outbox, giving each viewer fire-and-forget ordered delivery.
package subscriber

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kxrxh/logcast/internal/buffer"
)

const DefaultOutboxSize = 256

// Conn is the transport side of a viewer: a Sink that can be closed.
type Conn interface {
	buffer.Sink
	io.Closer
}

type Subscriber struct {
	id     string
	conn   Conn
	outbox *buffer.Outbox

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type config struct {
	id           string
	outboxSize   int
	writeTimeout time.Duration
	onFailure    func(*Subscriber, error)
}

type Option func(*config)

// WithID overrides the generated random id.
func WithID(id string) Option { return func(c *config) { c.id = id } }

func WithOutboxSize(n int) Option { return func(c *config) { c.outboxSize = n } }

func WithWriteTimeout(d time.Duration) Option { return func(c *config) { c.writeTimeout = d } }

// WithOnFailure is called once, from the delivery goroutine, when a write to
// the viewer fails. The subscriber is already closed at that point.
func WithOnFailure(f func(*Subscriber, error)) Option { return func(c *config) { c.onFailure = f } }

// New starts delivery to conn. The subscriber stays open until Close, a
// failed write, or ctx cancellation.
func New(ctx context.Context, conn Conn, opts ...Option) *Subscriber {
	cfg := config{
		id:         uuid.NewString(),
		outboxSize: DefaultOutboxSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subscriber{
		id:     cfg.id,
		conn:   conn,
		closed: make(chan struct{}),
	}
	s.outbox = buffer.New(ctx, conn, cfg.outboxSize,
		buffer.WithWriteTimeout(cfg.writeTimeout),
		buffer.WithOnFailure(func(err error) {
			_ = s.Close()
			if cfg.onFailure != nil {
				cfg.onFailure(s, err)
			}
		}),
	)
	s.outbox.Start()

	go func() {
		select {
		case <-s.outbox.Done():
			_ = s.Close()
		case <-s.closed:
		}
	}()
	return s
}

func (s *Subscriber) ID() string { return s.id }

// Send queues text for delivery. A full outbox closes the subscriber: a
// viewer that cannot keep up is treated as disconnected.
func (s *Subscriber) Send(text string) error {
	if err := s.outbox.Push(text); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

func (s *Subscriber) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Done is closed once the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} { return s.closed }

// Err returns the write error that ended delivery, if any.
func (s *Subscriber) Err() error { return s.outbox.Err() }

func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.outbox.Stop()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
