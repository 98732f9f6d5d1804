package logstore

import (
	"regexp"
	"strings"
	"time"
)

const (
	// TimestampLayout is the entry timestamp format, local time with
	// millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000"

	// dayLayout names day files and keys rotation.
	dayLayout = "2006-01-02"
)

// ansiPattern matches SGR color escape sequences so searches can ignore
// terminal coloring embedded in captured output.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// FormatEntry serializes one log entry without the trailing newline. The
// same string is appended to the day file and published to subscribers.
func FormatEntry(ts time.Time, text string) string {
	return "[" + ts.Format(TimestampLayout) + "] " + text
}

// StripANSI removes SGR color escape sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// decodeLine converts raw file bytes to a string, replacing any invalid
// UTF-8 so the result is always safe to serialize.
func decodeLine(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
