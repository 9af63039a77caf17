// Package server exposes the validation engine over HTTP. The handlers are
// thin shells: decode the request, run the engine, encode the report. All
// decision logic lives in internal/engine.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhgiraldo/packaging-backend/internal/common"
	"github.com/jhgiraldo/packaging-backend/internal/engine"
	"github.com/jhgiraldo/packaging-backend/internal/entity"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
	"github.com/jhgiraldo/packaging-backend/internal/rules"
	"github.com/jhgiraldo/packaging-backend/internal/store"
)

// Archiver stores finished reports; nil disables database archival.
type Archiver interface {
	Insert(ctx context.Context, report *entity.Report) (uuid.UUID, error)
}

// Exporter produces the reviewer XLSX; nil disables the export endpoint.
type Exporter interface {
	ExportReportsXLSX(ctx context.Context, limit int) ([]byte, error)
}

// Service wires the engine and its collaborators behind HTTP handlers.
type Service struct {
	engine    *engine.Engine
	rulesPath string
	archive   Archiver
	artifacts store.ArtifactStore
	exporter  Exporter
	cfg       common.ServerConfig
	logger    *slog.Logger
}

func NewService(eng *engine.Engine, rulesPath string, archive Archiver, artifacts store.ArtifactStore, exporter Exporter, cfg common.ServerConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    eng,
		rulesPath: rulesPath,
		archive:   archive,
		artifacts: artifacts,
		exporter:  exporter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Routes returns the HTTP mux for the service.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("GET /api/reports/export", s.handleExport)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type validateRequest struct {
	File     string `json:"file"`
	Filename string `json:"filename"`
}

// handleValidate runs one validation. A completed run always answers 200
// with the full report, even when the verdict is Rechazado; only unreadable
// input gets a distinct 422 parse-failure response.
func (s *Service) handleValidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	var req validateRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be valid JSON"})
		return
	}
	if req.File == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing 'file' (base64)"})
		return
	}
	docName := req.Filename
	if docName == "" {
		docName = "documento.pdf"
	}

	pdfBytes, err := decodeBase64(req.File)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'file' is not valid base64"})
		return
	}

	set, err := rules.Load(s.rulesPath)
	if err != nil {
		s.logger.Error("server.validate.rules_error", "path", s.rulesPath, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rule document could not be loaded"})
		return
	}
	if set.Empty() {
		s.logger.Warn("server.validate.empty_rules", "path", s.rulesPath)
	}

	report, rasters, err := s.engine.Run(ctx, docName, pdfBytes, set)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrDocumentParse):
			s.logger.Warn("server.validate.parse_failure", "doc", docName, "error", err)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "document could not be parsed as PDF"})
		case ctx.Err() != nil:
			s.logger.Warn("server.validate.canceled", "doc", docName, "error", ctx.Err())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "validation canceled"})
		default:
			s.logger.Error("server.validate.failed", "doc", docName, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	s.archiveRun(ctx, docName, report, rasters)

	s.logger.Info("server.validate.ok",
		"doc", docName,
		"status", string(report.OverallStatus),
		"results", len(report.Results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, report)
}

// archiveRun persists the report and rendered pages. Failures are logged and
// swallowed: archival must never change the validation outcome.
func (s *Service) archiveRun(ctx context.Context, docName string, report *entity.Report, rasters []pdfdoc.PageRaster) {
	if s.archive != nil {
		if id, err := s.archive.Insert(ctx, report); err != nil {
			s.logger.Warn("server.archive.db_failed", "doc", docName, "error", err)
		} else {
			s.logger.Debug("server.archive.db_ok", "doc", docName, "id", id.String())
		}
	}
	if s.artifacts == nil {
		return
	}
	if err := s.artifacts.SaveReport(ctx, docName, report); err != nil {
		s.logger.Warn("server.archive.report_failed", "doc", docName, "error", err)
	}
	for _, page := range rasters {
		if err := s.artifacts.SavePage(ctx, docName, page.PageIndex, page.PNG); err != nil {
			s.logger.Warn("server.archive.page_failed", "doc", docName, "page", page.PageIndex+1, "error", err)
			break
		}
	}
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "report archive not configured"})
		return
	}
	data, err := s.exporter.ExportReportsXLSX(r.Context(), 0)
	if err != nil {
		s.logger.Error("server.export.failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "export failed"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="validaciones.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// decodeBase64 accepts both raw and data-URL payloads.
func decodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
