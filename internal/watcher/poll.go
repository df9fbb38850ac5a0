package watcher

import (
	"context"
	"errors"

	"github.com/grafana/dskit/backoff"
)

// Poll stats the file on a fixed interval.
type Poll struct {
	path string
	opts options
}

func NewPoll(path string, opts ...Option) *Poll {
	return &Poll{path: path, opts: newOptions(opts)}
}

func (p *Poll) Run(ctx context.Context, notify func(ChangeEvent)) error {
	last, err := stat(p.path)
	if err != nil {
		return err
	}
	notify(newEvent(last, last))

	b := backoff.New(ctx, backoff.Config{
		MinBackoff: p.opts.pollInterval,
		MaxBackoff: p.opts.pollInterval,
	})

	for b.Ongoing() {
		b.Wait()
		if ctx.Err() != nil {
			return nil
		}

		fi, err := stat(p.path)
		if err != nil {
			if errors.Is(err, ErrWatchLost) {
				return err
			}
			p.opts.logger.Warn("stat failed", "path", p.path, "err", err)
			continue
		}
		if changed(last, fi) {
			ev := newEvent(last, fi)
			last = fi
			notify(ev)
			b.Reset()
		}
	}
	return nil
}
