package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Port registry
		r.Get("/ports", s.handleListPorts)

		// Historical log reads
		r.Route("/logs/{portID}", func(r chi.Router) {
			r.Get("/", s.handleQueryLogs)
			r.Get("/dates", s.handleListDates)
			r.Get("/tail", s.handleTailLines)
		})

		// Live stream
		r.Get("/ws/{portID}", s.handleWebSocket)

		// Firmware flashing
		r.Post("/flash/{portID}", s.handleFlash)

		// CMSIS pack management
		r.Route("/packs", func(r chi.Router) {
			r.Get("/", s.handleListPacks)
			r.Post("/upload", s.handleUploadPack)
		})

		// Health check
		r.Get("/system/health", s.handleHealth)
	})

	// Static frontend, mounted last so the API routes take priority.
	if dir := s.cfg.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", s.staticHandler(dir))
		} else {
			s.logger.Warn("static dir missing, frontend disabled", "dir", dir)
		}
	}

	return r
}

// staticHandler serves the frontend bundle. Paths that do not match a file
// fall back to index.html so client-side routes survive a hard refresh.
func (s *Server) staticHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}

		fileServer.ServeHTTP(w, r)
	})
}
