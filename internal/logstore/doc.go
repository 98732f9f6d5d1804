// Package logstore owns the on-disk log layout and everything that reads
// or writes it.
//
// Layout (stable contract):
//
//	<root>/
//	└── <identity>/
//	    ├── 2026-08-24.log
//	    └── 2026-08-25.log
//
// One directory per port identity, one append-only file per calendar day.
// Each entry is a single line:
//
//	[2006-01-02T15:04:05.000] <text>
//
// The Writer appends entries and rotates to a new day file when the entry
// timestamp crosses a date boundary. Every entry is flushed as it is
// written, so a file is complete up to the last appended line at all
// times. Close is not terminal; the next Append reopens the current day
// file, which is how a reader releases the file during a flashing pause.
//
// The read-side helpers (ListDates, TailLines, Query) are the query
// boundary used by the HTTP layer. They operate on the files directly and
// tolerate concurrent appends; a missing identity directory yields empty
// results rather than an error.
//
// Thread Safety:
//   - Writer is safe for concurrent use, though each reader goroutine
//     owns exactly one Writer in practice.
//   - The read helpers are stateless and safe to call from any goroutine.
package logstore
