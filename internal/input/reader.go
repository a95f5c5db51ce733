package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdinPath selects standard input as a source.
const StdinPath = "-"

const maxLineSize = 1 << 20

// LineReader streams the non-empty lines of a file or of stdin.
// Wordlists are read lazily so arbitrarily large lists never sit in memory.
type LineReader struct {
	source  string
	closer  io.Closer
	scanner *bufio.Scanner
	line    string
	count   int
}

// NewLineReader opens path for reading. "-" means standard input.
func NewLineReader(path string) (*LineReader, error) {
	if path == StdinPath {
		return NewLineReaderFrom("stdin", io.NopCloser(os.Stdin)), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return NewLineReaderFrom(path, file), nil
}

// NewLineReaderFrom wraps an already open source.
func NewLineReaderFrom(name string, rc io.ReadCloser) *LineReader {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineReader{source: name, closer: rc, scanner: scanner}
}

// Next advances to the next non-empty line. It returns false at the end of
// input or on error; check Err afterwards.
func (r *LineReader) Next() bool {
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.line = line
		r.count++
		return true
	}
	return false
}

// Line returns the current line.
func (r *LineReader) Line() string { return r.line }

// Count returns how many lines were returned so far.
func (r *LineReader) Count() int { return r.count }

// Source returns the name of the underlying input.
func (r *LineReader) Source() string { return r.source }

// Err returns the first read error.
func (r *LineReader) Err() error {
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", r.source, err)
	}
	return nil
}

func (r *LineReader) Close() error { return r.closer.Close() }
