// Package transport carries transmitted lines (the serial link) to their
// sinks: console, an append-only capture file, and asynchronous network
// senders behind a bounded queue.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"cyclex/internal/hal"
)

const (
	// SerialEOL terminates lines written to capture files.
	SerialEOL = "\r\n"
	// ConsoleEOL terminates lines written to a terminal.
	ConsoleEOL = "\n"
)

// WriterLine writes each line followed by EOL to w. Writes are serialized.
type WriterLine struct {
	mu  sync.Mutex
	w   io.Writer
	eol string
}

func NewWriterLine(w io.Writer, eol string) *WriterLine {
	return &WriterLine{w: w, eol: eol}
}

// Console writes lines to stdout.
func Console() *WriterLine { return NewWriterLine(os.Stdout, ConsoleEOL) }

func (l *WriterLine) TransmitLine(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, text+l.eol)
	return err
}

// FileLine appends lines to a file.
type FileLine struct {
	*WriterLine
	f *os.File
}

// OpenFile opens (creating parent directories) path for appending.
func OpenFile(path string) (*FileLine, error) {
	if path == "" {
		return nil, errors.New("transport: file path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transport: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	return &FileLine{WriterLine: NewWriterLine(f, SerialEOL), f: f}, nil
}

func (l *FileLine) Close() error { return l.f.Close() }

// Tee sends every line to each sink in order. All sinks are attempted.
type Tee []hal.Line

func (t Tee) TransmitLine(text string) error {
	var errs []error
	for _, l := range t {
		if l == nil {
			continue
		}
		if err := l.TransmitLine(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LineFunc adapts a function to hal.Line.
type LineFunc func(text string) error

func (f LineFunc) TransmitLine(text string) error { return f(text) }
