package logstore

import "errors"

var (
	// ErrBadDate indicates a date filter that does not parse as YYYY-MM-DD.
	ErrBadDate = errors.New("logstore: invalid date")
)
