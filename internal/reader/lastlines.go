package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kxrxh/logcast/internal/parser"
)

// DefaultChunkSize is the backward read size used when none is given.
const DefaultChunkSize = 1024

// LastLines returns up to n non-empty lines nearest the end of the file at
// path, oldest first. The file is read backwards in chunkSize pieces and
// reading stops as soon as n complete lines are buffered, so memory stays
// proportional to the requested lines rather than to the file.
func LastLines(path string, n, chunkSize int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrRead, path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrRead, path, err)
	}

	lines, err := lastLines(f, fi.Size(), n, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrRead, path, err)
	}
	return lines, nil
}

func lastLines(r io.ReaderAt, size int64, n, chunkSize int) ([]string, error) {
	if n <= 0 || size <= 0 {
		return nil, nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var (
		buf   []byte
		pos   = size
		chunk = make([]byte, chunkSize)
	)
	for pos > 0 {
		readSize := min(int64(chunkSize), pos)
		pos -= readSize

		got, err := r.ReadAt(chunk[:readSize], pos)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		next := make([]byte, int64(got)+int64(len(buf)))
		copy(next, chunk[:got])
		copy(next[got:], buf)
		buf = next

		if pos > 0 && completeLines(buf) >= n {
			break
		}
	}

	if pos > 0 {
		// The segment before the first newline may start mid-line.
		buf = buf[bytes.IndexByte(buf, '\n')+1:]
	}
	return parser.Last(parser.Lines(string(buf)), n), nil
}

// completeLines counts the non-empty lines in buf that follow its first
// newline, i.e. the lines known to be whole when buf does not start at
// offset 0.
func completeLines(buf []byte) int {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return 0
	}
	return len(parser.Lines(string(buf[i+1:])))
}
