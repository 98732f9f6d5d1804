package logstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultTailLines is the tail size when the caller does not specify
	// one; MaxTailLines caps what a caller may request.
	DefaultTailLines = 500
	MaxTailLines     = 10000

	// DefaultQueryLimit and MaxQueryLimit bound historical queries.
	DefaultQueryLimit = 5000
	MaxQueryLimit     = 50000

	// tailBlockSize is the backward read granularity for TailLines.
	tailBlockSize = 8192

	// scanBufferSize caps the longest line Query will read.
	scanBufferSize = 1024 * 1024
)

// QueryOptions filters and pages a historical log query.
type QueryOptions struct {
	// DateFrom and DateTo bound the day files scanned, inclusive, as
	// YYYY-MM-DD. Empty DateFrom means no lower bound; empty DateTo
	// means today.
	DateFrom string
	DateTo   string

	// Offset skips that many matching lines before collecting.
	Offset int

	// Limit caps collected lines. Zero selects DefaultQueryLimit; values
	// above MaxQueryLimit are clamped.
	Limit int

	// Search keeps only lines containing the substring, compared
	// case-insensitively with ANSI color codes stripped.
	Search string
}

// ListDates returns the sorted day stems of identity's log files. Files
// whose stem does not parse as a date are ignored. A missing directory
// yields an empty list.
func ListDates(root, identity string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, identity))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading log directory: %w", err)
	}

	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		stem := strings.TrimSuffix(name, ".log")
		if _, err := time.Parse(dayLayout, stem); err != nil {
			continue
		}
		dates = append(dates, stem)
	}
	sort.Strings(dates)
	return dates, nil
}

// TailLines returns the last n lines of identity's log in original order,
// spanning day files where needed. Files are read backward in fixed-size
// blocks so large logs are never loaded whole. n is clamped to
// [1, MaxTailLines], with 0 selecting DefaultTailLines.
func TailLines(root, identity string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultTailLines
	}
	if n > MaxTailLines {
		n = MaxTailLines
	}

	dates, err := ListDates(root, identity)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, n)
	for i := len(dates) - 1; i >= 0 && len(lines) < n; i-- {
		chunk, err := tailFile(filepath.Join(root, identity, dates[i]+".log"), n-len(lines))
		if err != nil {
			return nil, err
		}
		lines = append(chunk, lines...)
	}
	return lines, nil
}

// tailFile returns up to n trailing lines of one file in original order.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating log file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var (
		collected []string // newest first
		pending   []byte   // fragment continuing into the previous block
		offset    = size
		first     = true
	)
	for offset > 0 && len(collected) < n {
		blockSize := int64(tailBlockSize)
		if offset < blockSize {
			blockSize = offset
		}
		offset -= blockSize

		block := make([]byte, blockSize)
		if _, err := f.ReadAt(block, offset); err != nil {
			return nil, fmt.Errorf("reading log file: %w", err)
		}
		block = append(block, pending...)

		// Only the very end of the file carries a terminating newline
		// that does not delimit a following line.
		if first {
			block = bytes.TrimSuffix(block, []byte{'\n'})
			first = false
		}

		parts := bytes.Split(block, []byte{'\n'})
		pending = parts[0]
		for i := len(parts) - 1; i >= 1 && len(collected) < n; i-- {
			collected = append(collected, decodeLine(parts[i]))
		}
	}
	if offset == 0 && len(collected) < n && len(pending) > 0 {
		collected = append(collected, decodeLine(pending))
	}

	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// Query collects matching lines oldest-first across identity's day files
// in the requested date range, applying search, offset and limit. hasMore
// reports whether the limit was filled, meaning another page may exist.
func Query(root, identity string, opts QueryOptions) (lines []string, hasMore bool, err error) {
	dateFrom := ""
	if opts.DateFrom != "" {
		if _, perr := time.Parse(dayLayout, opts.DateFrom); perr != nil {
			return nil, false, fmt.Errorf("%w: %q", ErrBadDate, opts.DateFrom)
		}
		dateFrom = opts.DateFrom
	}
	dateTo := time.Now().Format(dayLayout)
	if opts.DateTo != "" {
		if _, perr := time.Parse(dayLayout, opts.DateTo); perr != nil {
			return nil, false, fmt.Errorf("%w: %q", ErrBadDate, opts.DateTo)
		}
		dateTo = opts.DateTo
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	dates, err := ListDates(root, identity)
	if err != nil {
		return nil, false, err
	}

	needle := strings.ToLower(opts.Search)
	lines = make([]string, 0)
	skipped := 0

	for _, day := range dates {
		// Day stems are ISO dates, so string order is date order.
		if day < dateFrom || day > dateTo {
			continue
		}
		done, err := scanFile(filepath.Join(root, identity, day+".log"), needle, &skipped, offset, limit, &lines)
		if err != nil {
			return nil, false, err
		}
		if done {
			break
		}
	}
	return lines, len(lines) >= limit, nil
}

// scanFile appends matching lines from one file until limit is reached.
// done reports that the limit was filled.
func scanFile(path string, needle string, skipped *int, offset, limit int, lines *[]string) (done bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	for scanner.Scan() {
		line := decodeLine(scanner.Bytes())
		if needle != "" && !strings.Contains(strings.ToLower(StripANSI(line)), needle) {
			continue
		}
		if *skipped < offset {
			*skipped++
			continue
		}
		*lines = append(*lines, line)
		if len(*lines) >= limit {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scanning log file: %w", err)
	}
	return false, nil
}
