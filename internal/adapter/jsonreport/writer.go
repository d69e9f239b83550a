// Package jsonreport persists per-device reports and the aggregate result
// set as indented JSON files under the run's output directory.
package jsonreport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"bytemomo/remora/internal/domain"
)

type Writer struct {
	OutDir string // e.g., ./remora-results/<run>
}

func New(out string) *Writer { return &Writer{OutDir: out} }

// Save writes one device report under devices/.
func (w *Writer) Save(dev domain.Device, rep domain.AuditReport) error {
	dir := filepath.Join(w.OutDir, "devices")
	_ = os.MkdirAll(dir, 0o755)
	name := sanitize(dev.String()) + ".json"
	return writeJSON(filepath.Join(dir, name), rep)
}

// Aggregate writes the full ordered result set and returns its path.
func (w *Writer) Aggregate(set domain.ResultSet) (string, error) {
	_ = os.MkdirAll(w.OutDir, 0o755)
	path := filepath.Join(w.OutDir, "audit.json")
	return path, writeJSON(path, struct {
		Version string           `json:"version"`
		Run     domain.ResultSet `json:"run"`
	}{
		Version: "1.0",
		Run:     set,
	})
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
