package flash

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// packFamilyPattern extracts the device family from a target part number,
// e.g. "EFR32FG28" from "EFR32FG28B322F1024IM48". Packs are published per
// family, so a family hit is enough to pick the right file.
var packFamilyPattern = regexp.MustCompile(`(?i)EFR32[A-Z]{2}[0-9]{2}`)

// PackStore is a directory of CMSIS device pack files.
type PackStore struct {
	dir string
}

// NewPackStore creates the pack directory if needed and returns a store
// rooted there.
func NewPackStore(dir string) (*PackStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating pack directory: %w", err)
	}
	return &PackStore{dir: dir}, nil
}

// Dir returns the directory the store manages.
func (s *PackStore) Dir() string {
	return s.dir
}

// List returns the sorted file names of all packs in the store.
func (s *PackStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading pack directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pack") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// FindForTarget picks the pack path for a target part number. Preference
// order: a pack whose name contains the target's family, then the first
// pack in sorted order, then none. Matching is case-insensitive.
func (s *PackStore) FindForTarget(target string) string {
	names, err := s.List()
	if err != nil || len(names) == 0 {
		return ""
	}

	if family := packFamilyPattern.FindString(target); family != "" {
		family = strings.ToUpper(family)
		for _, name := range names {
			if strings.Contains(strings.ToUpper(name), family) {
				return filepath.Join(s.dir, name)
			}
		}
	}
	return filepath.Join(s.dir, names[0])
}

// Save writes an uploaded pack into the store and returns its file name.
// Path components are stripped so browser-supplied filenames cannot escape
// the directory; the remaining name must be "*.pack".
func (s *PackStore) Save(name string, r io.Reader) (string, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".pack") || base == ".pack" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPackName, name)
	}

	dst := filepath.Join(s.dir, base)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating pack file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("writing pack file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing pack file: %w", err)
	}
	return base, nil
}
