package buffer

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrFull is returned by Push when the consumer fell too far behind.
	ErrFull = errors.New("outbox full")
	// ErrClosed is returned by Push after Stop or a failed write.
	ErrClosed = errors.New("outbox closed")
)

// Sink delivers one message to a viewer as one discrete frame.
type Sink interface {
	Write(ctx context.Context, msg string) error
}

type SinkFunc func(ctx context.Context, msg string) error

func (f SinkFunc) Write(ctx context.Context, msg string) error { return f(ctx, msg) }

// Outbox is a bounded FIFO drained by its own goroutine into a Sink.
// Push never blocks, so one slow viewer cannot hold up the others; messages
// reach the sink in Push order and are never merged or dropped silently.
type Outbox struct {
	sink         Sink
	maxSize      int
	writeTimeout time.Duration
	onFailure    func(error)

	input  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu       sync.RWMutex
	closed   bool
	err      error
	stopOnce sync.Once
}

type Option func(*Outbox)

// WithWriteTimeout bounds every Sink.Write call.
func WithWriteTimeout(d time.Duration) Option { return func(b *Outbox) { b.writeTimeout = d } }

// WithOnFailure registers f to be called once when a write fails.
func WithOnFailure(f func(error)) Option { return func(b *Outbox) { b.onFailure = f } }

func New(ctx context.Context, sink Sink, maxSize int, opts ...Option) *Outbox {
	ctx, cancel := context.WithCancel(ctx)
	maxSize = max(maxSize, 1)
	b := &Outbox{
		sink:    sink,
		maxSize: maxSize,
		input:   make(chan string, maxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Outbox) Start() {
	b.wg.Add(1)
	go b.run()
}

// Push queues msg. It fails with ErrFull when maxSize messages are already
// waiting and with ErrClosed once the outbox stopped.
func (b *Outbox) Push(msg string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	select {
	case b.input <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Stop discards queued messages and ends the drain goroutine. It does not
// wait for an in-flight write; use Wait for that.
func (b *Outbox) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.cancel()
	})
}

func (b *Outbox) Wait() { b.wg.Wait() }

// Done is closed when the drain goroutine has exited.
func (b *Outbox) Done() <-chan struct{} { return b.done }

// Err returns the write error that stopped the outbox, if any.
func (b *Outbox) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

func (b *Outbox) Len() int { return len(b.input) }

func (b *Outbox) run() {
	defer b.wg.Done()
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.input:
			if err := b.write(msg); err != nil {
				b.fail(err)
				return
			}
		}
	}
}

func (b *Outbox) write(msg string) error {
	ctx := b.ctx
	if b.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.writeTimeout)
		defer cancel()
	}
	return b.sink.Write(ctx, msg)
}

func (b *Outbox) fail(err error) {
	b.mu.Lock()
	if b.ctx.Err() != nil && b.closed {
		// Stopped deliberately; a write interrupted by Stop is not a failure.
		b.mu.Unlock()
		return
	}
	b.err = err
	b.mu.Unlock()

	b.Stop()
	if b.onFailure != nil {
		b.onFailure(err)
	}
}
