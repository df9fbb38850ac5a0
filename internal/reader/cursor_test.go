package reader

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursor_ComputeDelta(t *testing.T) {
	c := NewCursor(10)

	start, end, ok := c.ComputeDelta(25)
	assert.True(t, ok)
	assert.EqualValues(t, 10, start)
	assert.EqualValues(t, 25, end)

	// Computing a delta does not consume it.
	assert.EqualValues(t, 10, c.Offset())

	_, _, ok = c.ComputeDelta(10)
	assert.False(t, ok, "no growth yields an empty range")

	_, _, ok = c.ComputeDelta(3)
	assert.False(t, ok, "shrink is not a valid delta")
}

func TestCursor_Advance(t *testing.T) {
	c := NewCursor(0)

	assert.True(t, c.Advance(5))
	assert.EqualValues(t, 5, c.Offset())

	assert.False(t, c.Advance(2))
	assert.EqualValues(t, 5, c.Offset())
}

func TestCursor_Reset(t *testing.T) {
	c := NewCursor(100)
	c.Reset()
	assert.EqualValues(t, 0, c.Offset())
}

func TestCursor_NegativeStart(t *testing.T) {
	assert.EqualValues(t, 0, NewCursor(-5).Offset())
}

func TestCursor_ConcurrentAdvance(t *testing.T) {
	c := NewCursor(0)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(off int64) {
			defer wg.Done()
			c.Advance(off)
		}(int64(i))
	}
	wg.Wait()

	assert.EqualValues(t, 100, c.Offset())
}
