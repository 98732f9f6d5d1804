// Package api implements the HTTP REST API and WebSocket server for daplog.
//
// This package provides:
//   - REST endpoints for port listing, historical log reads, and health
//   - A WebSocket bridge from the engine's line hub, one stream per port
//   - Firmware flashing over multipart upload, plus CMSIS pack management
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//
// # Architecture
//
// The server sits between the browser frontend and the monitoring engine.
// Historical reads go straight to the log tree on disk; live lines flow
// from the per-port readers through the hub to WebSocket clients; flash
// requests spool the uploaded image to disk and hand it to the flasher,
// which pauses the port's reader around the pyocd run.
//
//	browser ──REST──▶ Server ──▶ probe.Manager / logstore / flash.Flasher
//	browser ◀── WS ── Server ◀── hub lines
//
// The static frontend bundle is served from a configured directory, mounted
// after the API routes with an index.html fallback for client-side routing.
//
// # Graceful Degradation
//
// The server operates without a flasher or pack store: monitoring and log
// reads keep working, only the flash and pack endpoints report 503.
package api
