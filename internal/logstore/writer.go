package logstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends timestamped entries to the day files of one identity,
// rotating when the entry date changes. Opening is lazy, so constructing
// a Writer never touches the filesystem; the first Append does.
type Writer struct {
	mu       sync.Mutex
	root     string
	identity string

	file *os.File
	buf  *bufio.Writer
	day  string
}

// NewWriter returns a writer for identity's log directory under root.
func NewWriter(root, identity string) *Writer {
	return &Writer{root: root, identity: identity}
}

// Append writes one entry to the day file for ts, rotating first if the
// date differs from the currently open file. The entry is flushed before
// Append returns.
func (w *Writer) Append(ts time.Time, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := ts.Format(dayLayout)
	if w.file == nil || day != w.day {
		if err := w.rotateLocked(day); err != nil {
			return err
		}
	}

	if _, err := w.buf.WriteString(FormatEntry(ts, text)); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing entry: %w", err)
	}
	return nil
}

// Flush drains any buffered data to the open day file. No-op when no
// file is open.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the open day file. The writer stays usable; a
// later Append reopens the appropriate day file in append mode.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Path returns the day file path for the given date stem.
func (w *Writer) Path(day string) string {
	return filepath.Join(w.root, w.identity, day+".log")
}

// rotateLocked closes any open file and opens the file for day, creating
// the identity directory on first use.
func (w *Writer) rotateLocked(day string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}

	dir := filepath.Join(w.root, w.identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, day+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening day file: %w", err)
	}

	w.file = f
	w.buf = bufio.NewWriter(f)
	w.day = day
	return nil
}

func (w *Writer) closeLocked() error {
	if w.file == nil {
		return nil
	}

	var firstErr error
	if err := w.buf.Flush(); err != nil {
		firstErr = fmt.Errorf("flushing day file: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing day file: %w", err)
	}

	w.file = nil
	w.buf = nil
	w.day = ""
	return firstErr
}
