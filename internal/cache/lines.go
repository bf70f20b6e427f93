package cache

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"iter"
	"os"
	"strings"
)

// LineReader yields the newline-delimited records of a cache entry without
// reading the whole file into memory.
type LineReader struct {
	rc     io.ReadCloser
	name   string
	r      *bufio.Reader
	err    error
	closed bool
}

// NewLineReader wraps an open entry returned by Open.
func NewLineReader(f *os.File) *LineReader {
	return &LineReader{rc: f, name: f.Name(), r: bufio.NewReader(f)}
}

// ReadLines wraps content that never touched the disk, such as command
// output fetched with caching disabled.
func ReadLines(content []byte) *LineReader {
	br := bytes.NewReader(content)
	return &LineReader{rc: io.NopCloser(br), name: "<memory>", r: bufio.NewReader(br)}
}

// All returns a single-pass sequence of lines with their terminators
// removed. The file is closed when the sequence is exhausted or the caller
// stops ranging early.
func (lr *LineReader) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		defer lr.Close()
		if lr.closed {
			return
		}
		for {
			line, err := lr.r.ReadString('\n')
			if line != "" && !yield(trimEOL(line)) {
				return
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					lr.err = &IOError{Op: "read", Path: lr.name, Err: err}
				}
				return
			}
		}
	}
}

// Lines reads every remaining line and closes the reader.
func (lr *LineReader) Lines() ([]string, error) {
	var lines []string
	for line := range lr.All() {
		lines = append(lines, line)
	}
	return lines, lr.Err()
}

// Err returns the first read error encountered by All.
func (lr *LineReader) Err() error {
	return lr.err
}

// Close releases the underlying file. It is safe to call more than once.
func (lr *LineReader) Close() error {
	if lr.closed {
		return nil
	}
	lr.closed = true
	return lr.rc.Close()
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
