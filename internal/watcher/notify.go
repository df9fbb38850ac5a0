package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Notify reacts to fsnotify events. It watches the parent directory rather
// than the file so that atomic replaces and recreations are visible.
type Notify struct {
	path string
	opts options
}

func NewNotify(path string, opts ...Option) *Notify {
	return &Notify{path: filepath.Clean(path), opts: newOptions(opts)}
}

func (n *Notify) Run(ctx context.Context, notify func(ChangeEvent)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(n.path)); err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrUnavailable, filepath.Dir(n.path), err)
	}

	last, err := stat(n.path)
	if err != nil {
		return err
	}
	notify(newEvent(last, last))

	var (
		pending bool
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	check := func() error {
		fi, err := stat(n.path)
		if err != nil {
			if errors.Is(err, ErrWatchLost) {
				return err
			}
			n.opts.logger.Warn("stat failed", "path", n.path, "err", err)
			return nil
		}
		if changed(last, fi) {
			ev := newEvent(last, fi)
			last = fi
			notify(ev)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrWatchLost)
			}
			if filepath.Clean(event.Name) != n.path {
				continue
			}
			// Chmod alone carries no content change.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Remove and Rename are only fatal if nothing replaced the file;
			// a replacement is reported as a Replaced event.
			if n.opts.debounce > 0 && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				if !pending {
					pending = true
					if timer == nil {
						timer = time.NewTimer(n.opts.debounce)
					} else {
						timer.Reset(n.opts.debounce)
					}
					fire = timer.C
				}
				continue
			}
			if err := check(); err != nil {
				return err
			}

		case <-fire:
			pending = false
			fire = nil
			if err := check(); err != nil {
				return err
			}

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("%w: error stream closed", ErrWatchLost)
			}
			return fmt.Errorf("%w: %w", ErrWatchLost, err)
		}
	}
}
