package watcher

import (
	"context"
	"errors"
)

// Auto prefers fsnotify and falls back to polling when notifications
// cannot be set up on this system.
type Auto struct {
	notify *Notify
	poll   *Poll
	opts   options
}

func NewAuto(path string, opts ...Option) *Auto {
	return &Auto{
		notify: NewNotify(path, opts...),
		poll:   NewPoll(path, opts...),
		opts:   newOptions(opts),
	}
}

func (a *Auto) Run(ctx context.Context, notify func(ChangeEvent)) error {
	err := a.notify.Run(ctx, notify)
	if !errors.Is(err, ErrUnavailable) {
		return err
	}
	a.opts.logger.Warn("falling back to polling", "path", a.poll.path, "err", err)
	return a.poll.Run(ctx, notify)
}
