package api

import "net/http"

// handleListPorts returns every discovered probe, connected or not, sorted
// by ID.
//
// GET /api/ports
func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Ports())
}
