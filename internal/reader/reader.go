package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrRead reports that the log file could not be stat'ed, opened or read at
// the moment it was needed. It is transient: the caller may retry later.
var ErrRead = errors.New("log file unreadable")

// Stat returns the file info of the regular file at path.
func Stat(path string) (os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrRead, path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrRead, path)
	}
	return fi, nil
}

// Size returns the current size of the file at path.
func Size(path string) (int64, error) {
	fi, err := Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// ReadRange reads the bytes in [start, end) from the file at path. If the
// file shrank after the range was computed, the bytes that still exist are
// returned and the caller advances only past what it got.
func ReadRange(path string, start, end int64) ([]byte, error) {
	if end <= start {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrRead, path, err)
	}
	defer f.Close()

	buf := make([]byte, end-start)
	n, err := f.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %s at %d: %w", ErrRead, path, start, err)
	}
	return buf[:n], nil
}
