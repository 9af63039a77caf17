package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jhgiraldo/packaging-backend/internal/common"
	"github.com/jhgiraldo/packaging-backend/internal/engine"
	"github.com/jhgiraldo/packaging-backend/internal/entity"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
)

type stubExtractor struct {
	spans []pdfdoc.Span
	err   error
}

func (s *stubExtractor) Extract(_ []byte) ([]pdfdoc.Span, error) { return s.spans, s.err }

type stubRenderer struct {
	rasters []pdfdoc.PageRaster
	err     error
}

func (s *stubRenderer) Render(_ context.Context, _ []byte) ([]pdfdoc.PageRaster, error) {
	return s.rasters, s.err
}

type stubArchiver struct {
	inserted int
	err      error
}

func (s *stubArchiver) Insert(_ context.Context, _ *entity.Report) (uuid.UUID, error) {
	s.inserted++
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return uuid.New(), nil
}

func testConfig() common.ServerConfig {
	return common.ServerConfig{MaxBodyBytes: 10 << 20}
}

func writeRules(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Reglas.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testService(t *testing.T, extractor *stubExtractor, renderer *stubRenderer, rulesPath string, archive Archiver) *Service {
	t.Helper()
	eng := engine.New(extractor, renderer, nil, nil, nil, engine.Config{}, nil)
	return NewService(eng, rulesPath, archive, nil, nil, testConfig(), nil)
}

func postValidate(t *testing.T, svc *Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/validate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	return rec
}

func validateBody(filename string, pdf []byte) string {
	b, _ := json.Marshal(map[string]string{
		"filename": filename,
		"file":     base64.StdEncoding.EncodeToString(pdf),
	})
	return string(b)
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) entity.Report {
	t.Helper()
	var report entity.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("response is not a report: %v (body: %s)", err, rec.Body.String())
	}
	return report
}

func TestValidateApproved(t *testing.T) {
	rulesPath := writeRules(t, `{"texto": [{"nombre": "Aviso", "tipo": "texto", "patron": "consumir antes de"}]}`)
	extractor := &stubExtractor{spans: []pdfdoc.Span{{Text: "Consumir antes de fin de mes"}}}
	renderer := &stubRenderer{rasters: []pdfdoc.PageRaster{{PageIndex: 0, PNG: []byte("png")}}}
	archive := &stubArchiver{}

	svc := testService(t, extractor, renderer, rulesPath, archive)
	rec := postValidate(t, svc, validateBody("etiqueta.pdf", []byte("%PDF")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decodeReport(t, rec)
	if report.OverallStatus != entity.StatusApproved {
		t.Errorf("estado_general = %s, want Aprobado", report.OverallStatus)
	}
	if report.DocumentName != "etiqueta.pdf" {
		t.Errorf("archivo = %q", report.DocumentName)
	}
	if archive.inserted != 1 {
		t.Errorf("archive.Insert called %d times, want 1", archive.inserted)
	}
}

func TestValidateRejectedIsStill200(t *testing.T) {
	rulesPath := writeRules(t, `{"texto": [{"nombre": "Aviso", "tipo": "texto", "patron": "consumir antes de"}]}`)
	extractor := &stubExtractor{spans: []pdfdoc.Span{{Text: "sin aviso"}}}
	renderer := &stubRenderer{rasters: []pdfdoc.PageRaster{{PageIndex: 0}}}

	svc := testService(t, extractor, renderer, rulesPath, nil)
	rec := postValidate(t, svc, validateBody("etiqueta.pdf", []byte("%PDF")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for a rejected document", rec.Code)
	}
	report := decodeReport(t, rec)
	if report.OverallStatus != entity.StatusRejected {
		t.Errorf("estado_general = %s, want Rechazado", report.OverallStatus)
	}
}

func TestValidateParseFailureIs422(t *testing.T) {
	rulesPath := writeRules(t, `{"texto": [{"nombre": "Aviso", "tipo": "texto", "patron": "x"}]}`)
	extractor := &stubExtractor{err: common.NewAppError("DOC_PARSE", "open pdf", common.ErrDocumentParse)}
	renderer := &stubRenderer{rasters: []pdfdoc.PageRaster{{PageIndex: 0}}}

	svc := testService(t, extractor, renderer, rulesPath, nil)
	rec := postValidate(t, svc, validateBody("roto.pdf", []byte("junk")))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "could not be parsed") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestValidateMissingRulesFileApproves(t *testing.T) {
	// No rule document configured: the run degrades to an empty rule set and
	// every document is approved.
	extractor := &stubExtractor{spans: []pdfdoc.Span{{Text: "lo que sea"}}}
	renderer := &stubRenderer{rasters: []pdfdoc.PageRaster{{PageIndex: 0}}}
	missing := filepath.Join(t.TempDir(), "no-such.json")

	svc := testService(t, extractor, renderer, missing, nil)
	rec := postValidate(t, svc, validateBody("etiqueta.pdf", []byte("%PDF")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decodeReport(t, rec)
	if report.OverallStatus != entity.StatusApproved {
		t.Errorf("estado_general = %s, want Aprobado", report.OverallStatus)
	}
	if len(report.Results) != 0 {
		t.Errorf("resultados = %+v, want none", report.Results)
	}
}

type blockingRenderer struct{}

func (blockingRenderer) Render(ctx context.Context, _ []byte) ([]pdfdoc.PageRaster, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestValidateTimeoutIs503(t *testing.T) {
	rulesPath := writeRules(t, `{}`)
	extractor := &stubExtractor{spans: []pdfdoc.Span{{Text: "x"}}}
	archive := &stubArchiver{}
	eng := engine.New(extractor, blockingRenderer{}, nil, nil, nil, engine.Config{}, nil)

	cfg := testConfig()
	cfg.RequestTimeout = 10 * time.Millisecond
	svc := NewService(eng, rulesPath, archive, nil, nil, cfg, nil)

	rec := postValidate(t, svc, validateBody("lenta.pdf", []byte("%PDF")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 for a timed-out run (body: %s)", rec.Code, rec.Body.String())
	}
	if archive.inserted != 0 {
		t.Errorf("a timed-out run must not be archived, Insert called %d times", archive.inserted)
	}
}

func TestValidateBadRequests(t *testing.T) {
	rulesPath := writeRules(t, `{}`)
	svc := testService(t, &stubExtractor{}, &stubRenderer{}, rulesPath, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"missing file", `{"filename": "x.pdf"}`},
		{"bad base64", `{"filename": "x.pdf", "file": "@@@not-base64@@@"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postValidate(t, svc, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body: %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestValidateDataURLPayload(t *testing.T) {
	rulesPath := writeRules(t, `{}`)
	extractor := &stubExtractor{spans: []pdfdoc.Span{{Text: "x"}}}
	renderer := &stubRenderer{rasters: []pdfdoc.PageRaster{{PageIndex: 0}}}
	svc := testService(t, extractor, renderer, rulesPath, nil)

	encoded := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF"))
	b, _ := json.Marshal(map[string]string{"filename": "e.pdf", "file": encoded})
	rec := postValidate(t, svc, string(b))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestValidateArchiveFailureDoesNotChangeOutcome(t *testing.T) {
	rulesPath := writeRules(t, `{}`)
	extractor := &stubExtractor{spans: []pdfdoc.Span{{Text: "x"}}}
	renderer := &stubRenderer{rasters: []pdfdoc.PageRaster{{PageIndex: 0}}}
	archive := &stubArchiver{err: common.NewAppError("DB_INSERT", "insert validation report", common.ErrDatabase)}

	svc := testService(t, extractor, renderer, rulesPath, archive)
	rec := postValidate(t, svc, validateBody("etiqueta.pdf", []byte("%PDF")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, archival must never fail the request", rec.Code)
	}
}

func TestExportWithoutArchive(t *testing.T) {
	rulesPath := writeRules(t, `{}`)
	svc := testService(t, &stubExtractor{}, &stubRenderer{}, rulesPath, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/reports/export", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when no archive is configured", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rulesPath := writeRules(t, `{}`)
	svc := testService(t, &stubExtractor{}, &stubRenderer{}, rulesPath, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
