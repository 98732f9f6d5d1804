package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/probelab/daplog/internal/logstore"
	"github.com/probelab/daplog/internal/probe"
)

// portIDParam extracts and validates the portID route parameter. IDs outside
// the identity alphabet cannot exist in the registry, and rejecting them up
// front keeps hostile values away from filesystem paths.
func (s *Server) portIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "portID")
	if !probe.ValidID(id) {
		writeBadRequest(w, "invalid port id")
		return "", false
	}
	return id, true
}

// handleListDates returns the dates with log files for a port, oldest first.
//
// GET /api/logs/{portID}/dates
func (s *Server) handleListDates(w http.ResponseWriter, r *http.Request) {
	id, ok := s.portIDParam(w, r)
	if !ok {
		return
	}

	dates, err := logstore.ListDates(s.logRoot, id)
	if err != nil {
		s.logger.Error("listing log dates", "port", id, "error", err)
		writeInternalError(w, "failed to list log dates")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// handleTailLines returns the last N lines of today's log for a port.
// Defaults to 500 lines, capped at 10000.
//
// GET /api/logs/{portID}/tail?lines=N
func (s *Server) handleTailLines(w http.ResponseWriter, r *http.Request) {
	id, ok := s.portIDParam(w, r)
	if !ok {
		return
	}

	n := logstore.DefaultTailLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "lines must be an integer")
			return
		}
		n = v
	}

	lines, err := logstore.TailLines(s.logRoot, id, n)
	if err != nil {
		s.logger.Error("tailing log", "port", id, "error", err)
		writeInternalError(w, "failed to read log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"total": len(lines),
	})
}

// handleQueryLogs reads historical lines for a port across a date range with
// optional substring search and offset/limit paging.
//
// GET /api/logs/{portID}?date_from=&date_to=&offset=&limit=&search=
func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.portIDParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := logstore.QueryOptions{
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Search:   q.Get("search"),
		Limit:    logstore.DefaultQueryLimit,
	}

	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		opts.Offset = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		opts.Limit = v
	}

	lines, hasMore, err := logstore.Query(s.logRoot, id, opts)
	if err != nil {
		if errors.Is(err, logstore.ErrBadDate) {
			writeBadRequest(w, "dates must be YYYY-MM-DD")
			return
		}
		s.logger.Error("querying log", "port", id, "error", err)
		writeInternalError(w, "failed to read log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lines":    lines,
		"has_more": hasMore,
	})
}
