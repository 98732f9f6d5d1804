package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/probelab/daplog/internal/flash"
)

// uploadMemoryLimit is how much of a multipart upload is held in memory
// before spilling to temp files.
const uploadMemoryLimit = 32 << 20

// handleFlash accepts a firmware image as multipart form data and flashes it
// to the probe's target. The response is the flash result, success or not;
// HTTP errors are reserved for bad requests and infrastructure failures.
//
// POST /api/flash/{portID}
// Form fields: firmware (required, .hex file), target, frequency, pack.
func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	if s.flasher == nil {
		writeUnavailable(w, "flashing is not configured")
		return
	}

	id, ok := s.portIDParam(w, r)
	if !ok {
		return
	}

	// pyocd can legitimately run for minutes and big images upload slowly;
	// the server's request deadlines would cut both short.
	rc := http.NewResponseController(w)
	rc.SetReadDeadline(time.Time{})  //nolint:errcheck // Best-effort: unsupported writers keep their deadlines
	rc.SetWriteDeadline(time.Time{}) //nolint:errcheck // Best-effort: unsupported writers keep their deadlines

	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		writeMultipartError(w, err)
		return
	}

	file, header, err := r.FormFile("firmware")
	if err != nil {
		writeBadRequest(w, "missing required 'firmware' field in form data")
		return
	}
	defer file.Close() //nolint:errcheck // Read-only file handle

	if !strings.EqualFold(filepath.Ext(header.Filename), ".hex") {
		writeBadRequest(w, "firmware must be a .hex file")
		return
	}

	// pyocd reads a path, not a stream.
	hexPath, err := spoolUpload(file, "daplog-fw-*.hex")
	if err != nil {
		s.logger.Error("spooling firmware upload", "error", err)
		writeInternalError(w, "failed to store firmware")
		return
	}
	defer os.Remove(hexPath) //nolint:errcheck // Best-effort temp file cleanup

	pack := r.FormValue("pack")
	if pack != "" && s.packs != nil && filepath.Base(pack) == pack {
		// Bare pack names come from the pack list endpoint.
		pack = filepath.Join(s.packs.Dir(), pack)
	}

	s.logger.Info("flash requested",
		"port", id,
		"firmware", header.Filename,
		"size", header.Size,
	)

	res := s.flasher.Flash(r.Context(), flash.Request{
		Identity:  id,
		HexPath:   hexPath,
		Target:    r.FormValue("target"),
		Frequency: r.FormValue("frequency"),
		PackPath:  pack,
	})

	writeJSON(w, http.StatusOK, res)
}

// handleListPacks returns the names of available CMSIS packs.
//
// GET /api/packs
func (s *Server) handleListPacks(w http.ResponseWriter, _ *http.Request) {
	if s.packs == nil {
		writeUnavailable(w, "pack store is not configured")
		return
	}

	names, err := s.packs.List()
	if err != nil {
		s.logger.Error("listing packs", "error", err)
		writeInternalError(w, "failed to list packs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"packs": names})
}

// handleUploadPack stores an uploaded CMSIS pack for later flashes.
//
// POST /api/packs/upload
// Form fields: pack (required, .pack file).
func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	if s.packs == nil {
		writeUnavailable(w, "pack store is not configured")
		return
	}

	rc := http.NewResponseController(w)
	rc.SetReadDeadline(time.Time{}) //nolint:errcheck // Best-effort: unsupported writers keep their deadlines

	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		writeMultipartError(w, err)
		return
	}

	file, header, err := r.FormFile("pack")
	if err != nil {
		writeBadRequest(w, "missing required 'pack' field in form data")
		return
	}
	defer file.Close() //nolint:errcheck // Read-only file handle

	name, err := s.packs.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, flash.ErrInvalidPackName) {
			writeBadRequest(w, "pack file name must end in .pack")
			return
		}
		s.logger.Error("saving pack", "name", header.Filename, "error", err)
		writeInternalError(w, "failed to save pack")
		return
	}

	s.logger.Info("pack uploaded", "name", name, "size", header.Size)
	writeJSON(w, http.StatusCreated, map[string]any{"name": name})
}

// spoolUpload copies an uploaded stream to a temp file and returns its path.
// The caller removes the file when done.
func spoolUpload(src io.Reader, pattern string) (string, error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()           //nolint:errcheck // Already failing
		os.Remove(tmp.Name()) //nolint:errcheck // Best-effort cleanup
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // Best-effort cleanup
		return "", err
	}
	return tmp.Name(), nil
}

// writeMultipartError maps a multipart parse failure to a response. A body
// that blew through MaxBytesReader gets 413, anything else 400.
func writeMultipartError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeTooLarge(w, "upload too large")
		return
	}
	writeBadRequest(w, "invalid multipart form")
}
