// Package store archives validation artifacts (reports and rendered pages)
// for later human review. Archival is always best-effort: a failed write is
// logged by the caller and never fails the validation request.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jhgiraldo/packaging-backend/internal/entity"
)

// ArtifactStore persists run artifacts keyed by document name.
type ArtifactStore interface {
	SaveReport(ctx context.Context, docName string, report *entity.Report) error
	SavePage(ctx context.Context, docName string, pageIndex int, png []byte) error
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SafeName strips the extension and replaces unsafe characters so a document
// name can be used as a path segment.
func SafeName(docName string) string {
	base := strings.TrimSuffix(docName, filepath.Ext(docName))
	safe := unsafeNameRe.ReplaceAllString(base, "_")
	if safe == "" {
		safe = "documento"
	}
	return safe
}

// FSStore lays artifacts out under a root directory:
//
//	validaciones/informes/<name>_informe.json
//	validaciones/imagenes/<name>/pag_<N>.png
type FSStore struct {
	root   string
	logger *slog.Logger
}

func NewFSStore(root string, logger *slog.Logger) *FSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{root: root, logger: logger}
}

func (s *FSStore) SaveReport(_ context.Context, docName string, report *entity.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(s.root, "validaciones", "informes", SafeName(docName)+"_informe.json")
	if err := s.write(path, data); err != nil {
		return err
	}
	s.logger.Debug("store.report.saved", "path", path)
	return nil
}

func (s *FSStore) SavePage(_ context.Context, docName string, pageIndex int, png []byte) error {
	path := filepath.Join(s.root, "validaciones", "imagenes", SafeName(docName),
		fmt.Sprintf("pag_%d.png", pageIndex+1))
	return s.write(path, png)
}

func (s *FSStore) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
