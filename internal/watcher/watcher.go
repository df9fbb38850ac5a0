// Package watcher detects size changes of a single log file, either from
// kernel notifications (fsnotify) or by polling.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/grafana/dskit/backoff"
)

var (
	// ErrWatchLost is terminal for a watch instance: the file disappeared or
	// the notification stream failed. The caller must start a new watch.
	ErrWatchLost = errors.New("watch lost")

	// ErrUnavailable means the notification mechanism could not be set up
	// at all; polling still works.
	ErrUnavailable = errors.New("file notifications unavailable")
)

// ChangeEvent describes one observed change of the watched file. Replaced is
// set when a different file now lives at the path (atomic rename or
// recreation between two observations).
type ChangeEvent struct {
	Grew       bool
	Shrank     bool
	Replaced   bool
	SizeBefore int64
	SizeAfter  int64
}

func newEvent(before, after os.FileInfo) ChangeEvent {
	return ChangeEvent{
		Grew:       after.Size() > before.Size(),
		Shrank:     after.Size() < before.Size(),
		Replaced:   !os.SameFile(before, after),
		SizeBefore: before.Size(),
		SizeAfter:  after.Size(),
	}
}

// changed reports whether after differs from before in size or identity.
func changed(before, after os.FileInfo) bool {
	return before.Size() != after.Size() || !os.SameFile(before, after)
}

// Detector observes a file and calls notify, from a single goroutine, each
// time its size or identity changes. Once the watch is established it also
// emits one event for the baseline it compares against, so the consumer can
// catch up on anything written before that point. Run blocks until ctx is
// done (returning nil) or the watch is lost.
type Detector interface {
	Run(ctx context.Context, notify func(ChangeEvent)) error
}

const DefaultPollInterval = 250 * time.Millisecond

type options struct {
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDebounce coalesces notifications arriving within d into a single
// re-stat. Zero disables it.
func WithDebounce(d time.Duration) Option { return func(o *options) { o.debounce = max(d, 0) } }

func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       slog.New(slog.DiscardHandler),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Mode selects a Detector implementation.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeFSNotify Mode = "fsnotify"
	ModePoll     Mode = "poll"
)

// New returns the detector for mode. Unknown modes are rejected.
func New(mode Mode, path string, opts ...Option) (Detector, error) {
	switch mode {
	case ModeAuto, "":
		return NewAuto(path, opts...), nil
	case ModeFSNotify:
		return NewNotify(path, opts...), nil
	case ModePoll:
		return NewPoll(path, opts...), nil
	default:
		return nil, fmt.Errorf("unknown watch mode %q", mode)
	}
}

// WaitForFile blocks until path exists or ctx is done.
func WaitForFile(ctx context.Context, path string, minWait, maxWait time.Duration) error {
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: minWait,
		MaxBackoff: maxWait,
	})

	for b.Ongoing() {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		b.Wait()
	}
	return b.Err()
}

// stat returns the file info, or ErrWatchLost when the file is gone.
func stat(path string) (os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s removed", ErrWatchLost, path)
		}
		return nil, err
	}
	return fi, nil
}
