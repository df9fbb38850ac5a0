package subscriber

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kxrxh/logcast/internal/buffer"
)

type fakeConn struct {
	mu      sync.Mutex
	got     []string
	err     error
	block   chan struct{}
	closeCt atomic.Int32
}

func (c *fakeConn) Write(ctx context.Context, msg string) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	c.got = append(c.got, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeCt.Add(1)
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestSubscriber_SendDelivers(t *testing.T) {
	conn := &fakeConn{}
	s := New(t.Context(), conn)
	defer s.Close()

	require.NotEmpty(t, s.ID())
	require.NoError(t, s.Send("a\n"))
	require.NoError(t, s.Send("b\n"))

	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a\n", "b\n"}, conn.messages())
	assert.False(t, s.Closed())
}

func TestSubscriber_WithID(t *testing.T) {
	s := New(t.Context(), &fakeConn{}, WithID("telegram:42"))
	defer s.Close()
	assert.Equal(t, "telegram:42", s.ID())
}

func TestSubscriber_WriteFailureCloses(t *testing.T) {
	boom := errors.New("broken pipe")
	conn := &fakeConn{err: boom}

	failed := make(chan error, 1)
	s := New(t.Context(), conn, WithOnFailure(func(_ *Subscriber, err error) { failed <- err }))

	require.NoError(t, s.Send("x"))

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("failure not reported")
	}
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Err(), boom)
	assert.EqualValues(t, 1, conn.closeCt.Load())
}

func TestSubscriber_OverflowCloses(t *testing.T) {
	conn := &fakeConn{block: make(chan struct{})}
	defer close(conn.block)

	s := New(t.Context(), conn, WithOutboxSize(1))

	var err error
	for range 5 {
		if err = s.Send("x"); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, buffer.ErrFull)
	assert.True(t, s.Closed())
}

func TestSubscriber_CloseIdempotent(t *testing.T) {
	conn := &fakeConn{}
	s := New(t.Context(), conn)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, s.Closed())
	assert.EqualValues(t, 1, conn.closeCt.Load())
	assert.ErrorIs(t, s.Send("late"), buffer.ErrClosed)
}

func TestSubscriber_ContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	s := New(ctx, &fakeConn{})

	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed after context cancel")
	}
}
