// Package broadcast ties the tail cursor, the last-lines reader and the
// subscriber registry together: new viewers get recent context, and every
// growth of the file is pushed to all connected viewers exactly once.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/kxrxh/logcast/internal/parser"
	"github.com/kxrxh/logcast/internal/reader"
	"github.com/kxrxh/logcast/internal/registry"
	"github.com/kxrxh/logcast/internal/watcher"
)

const (
	DefaultLines = 10

	// ReadErrorMessage is sent to a connecting viewer instead of context
	// when the log file cannot be read.
	ReadErrorMessage = "error: unable to read log file"
)

type Engine struct {
	path      string
	lines     int
	chunkSize int
	logger    *slog.Logger

	registry *registry.Registry
	cursor   *reader.Cursor
	// file is the file the cursor offset refers to; nil after Rewind.
	file os.FileInfo

	// mu serializes change handling so that a delta is read, broadcast and
	// committed before the next one is computed. Connects never take it.
	mu sync.Mutex
}

type Option func(*Engine)

// WithLines sets how many trailing lines a new subscriber receives.
func WithLines(n int) Option { return func(e *Engine) { e.lines = max(n, 0) } }

func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine for path with the cursor at the current end of
// file, so only content written from now on is broadcast.
func New(path string, reg *registry.Registry, opts ...Option) (*Engine, error) {
	fi, err := reader.Stat(path)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		path:      path,
		lines:     DefaultLines,
		chunkSize: reader.DefaultChunkSize,
		logger:    slog.New(slog.DiscardHandler),
		registry:  reg,
		cursor:    reader.NewCursor(fi.Size()),
		file:      fi,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// OnConnect sends the last lines of the file to sub alone and then
// registers it for growth broadcasts. If the file cannot be read, sub gets
// ReadErrorMessage instead and is registered anyway. An error is returned
// only when sub could not accept the first message; it is then closed.
func (e *Engine) OnConnect(sub registry.Subscriber) error {
	text, err := e.initialContext()
	if err != nil {
		e.logger.Warn("initial context unavailable", "subscriber", sub.ID(), "err", err)
		text = ReadErrorMessage
	}

	if err := sub.Send(text); err != nil {
		_ = sub.Close()
		return fmt.Errorf("send initial context to %s: %w", sub.ID(), err)
	}

	e.registry.Add(sub)
	e.logger.Debug("subscriber connected", "subscriber", sub.ID(), "subscribers", e.registry.Len())
	return nil
}

// Attach registers sub without sending it any context.
func (e *Engine) Attach(sub registry.Subscriber) {
	e.registry.Add(sub)
}

func (e *Engine) Disconnect(id string) {
	if e.registry.Remove(id) {
		e.logger.Debug("subscriber disconnected", "subscriber", id, "subscribers", e.registry.Len())
	}
}

func (e *Engine) initialContext() (string, error) {
	lines, err := reader.LastLines(e.path, e.lines, e.chunkSize)
	if err != nil {
		return "", err
	}
	return parser.Join(lines), nil
}

// OnGrowth delivers delta as one message to every registered subscriber.
// A subscriber that cannot accept it is removed; the others still get it.
func (e *Engine) OnGrowth(delta []byte) {
	if len(delta) == 0 {
		return
	}
	text := string(delta)

	e.registry.ForEach(func(s registry.Subscriber) {
		if err := s.Send(text); err != nil {
			e.logger.Warn("delivery failed", "subscriber", s.ID(), "bytes", len(delta), "err", err)
			e.registry.Evict(s)
		}
	})
}

// HandleChange re-stats the file and broadcasts whatever lies beyond the
// cursor. A shrink below the cursor is a truncation, and a different file at
// the path is a replacement: in both cases the cursor restarts at zero and
// the current content is delivered as fresh growth. Read errors leave the
// cursor untouched so the next change retries the same range.
func (e *Engine) HandleChange(ev watcher.ChangeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fi, err := reader.Stat(e.path)
	if err != nil {
		e.logger.Warn("stat failed", "path", e.path, "err", err)
		return err
	}

	offset := e.cursor.Offset()
	switch {
	case e.file != nil && !os.SameFile(e.file, fi):
		e.logger.Info("file replaced", "path", e.path, "offset", offset, "size", fi.Size())
		e.cursor.Reset()
	// A short-lived shrink may be followed by a write that grows the file
	// past the old offset before we stat; the event still carries it.
	case fi.Size() < offset || (ev.Shrank && ev.SizeAfter < offset):
		e.logger.Info("file truncated", "path", e.path, "offset", offset, "size", fi.Size())
		e.cursor.Reset()
		if fi, err = reader.Stat(e.path); err != nil {
			e.logger.Warn("stat failed", "path", e.path, "err", err)
			return err
		}
	}
	e.file = fi

	start, end, ok := e.cursor.ComputeDelta(fi.Size())
	if !ok {
		return nil
	}

	delta, err := reader.ReadRange(e.path, start, end)
	if err != nil {
		e.logger.Warn("read failed", "path", e.path, "offset", start, "err", err)
		return err
	}
	if len(delta) == 0 {
		return nil
	}

	e.OnGrowth(delta)
	e.cursor.Advance(start + int64(len(delta)))
	return nil
}

// Run feeds detector notifications into HandleChange until ctx is done or
// the watch is lost. A lost watch is returned for the caller to restart.
// Writes landing before the detector takes its baseline are covered by the
// baseline event it emits once the watch is established.
func (e *Engine) Run(ctx context.Context, det watcher.Detector) error {
	_ = e.HandleChange(watcher.ChangeEvent{})

	err := det.Run(ctx, func(ev watcher.ChangeEvent) {
		_ = e.HandleChange(ev)
	})
	if err != nil {
		if errors.Is(err, watcher.ErrWatchLost) {
			e.logger.Error("watch lost", "path", e.path, "err", err)
		}
		return err
	}
	return nil
}

// Rewind moves the cursor to the start of the file. It is used when the
// file was recreated and its content is new.
func (e *Engine) Rewind() {
	e.mu.Lock()
	e.cursor.Reset()
	e.file = nil
	e.mu.Unlock()
}

func (e *Engine) Offset() int64 { return e.cursor.Offset() }

func (e *Engine) Subscribers() int { return e.registry.Len() }

// Close disconnects every subscriber.
func (e *Engine) Close() {
	e.registry.CloseAll()
}
