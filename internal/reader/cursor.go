package reader

import "sync"

// Cursor tracks the byte offset up to which the file has been delivered.
// The offset only moves forward, except through Reset after a truncation.
type Cursor struct {
	mu     sync.Mutex
	offset int64
}

// NewCursor returns a cursor positioned at offset. A fresh process starts
// at the current end of file.
func NewCursor(offset int64) *Cursor {
	return &Cursor{offset: max(offset, 0)}
}

func (c *Cursor) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// ComputeDelta returns the range [start, end) that has not been consumed
// yet. ok is false when size does not exceed the stored offset, in which
// case the range is empty (no growth) or invalid (truncation).
func (c *Cursor) ComputeDelta(size int64) (start, end int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size <= c.offset {
		return c.offset, c.offset, false
	}
	return c.offset, size, true
}

// Advance commits newOffset once the bytes before it have been handed to
// every subscriber. Attempts to move backwards are ignored and reported.
func (c *Cursor) Advance(newOffset int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if newOffset < c.offset {
		return false
	}
	c.offset = newOffset
	return true
}

// Reset moves the cursor back to the start of the file.
func (c *Cursor) Reset() {
	c.mu.Lock()
	c.offset = 0
	c.mu.Unlock()
}
