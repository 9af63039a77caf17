package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jhgiraldo/packaging-backend/internal/common"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
	"github.com/jhgiraldo/packaging-backend/internal/rules"
)

// stubScorer returns canned similarities keyed by template ref and page index.
type stubScorer struct {
	mu     sync.Mutex
	scores map[string][]float64 // template -> per-page similarity
	errs   map[string]error
	calls  []int // page indexes in call order
}

func (s *stubScorer) Score(page pdfdoc.PageRaster, templateRef string) (float64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, page.PageIndex)
	s.mu.Unlock()
	if err, ok := s.errs[templateRef]; ok {
		return 0, err
	}
	pages, ok := s.scores[templateRef]
	if !ok || page.PageIndex >= len(pages) {
		return 0, nil
	}
	return pages[page.PageIndex], nil
}

// stubRecognizer returns canned lines per page index.
type stubRecognizer struct {
	lines map[int][]string
	errs  map[int]error
	calls []int
}

func (s *stubRecognizer) Recognize(_ context.Context, imageBytes []byte) ([]string, error) {
	page := int(imageBytes[0]) // raster PNG stub carries the page index
	s.calls = append(s.calls, page)
	if err, ok := s.errs[page]; ok {
		return nil, err
	}
	return s.lines[page], nil
}

func testRasters(n int) []pdfdoc.PageRaster {
	rasters := make([]pdfdoc.PageRaster, n)
	for i := range rasters {
		rasters[i] = pdfdoc.PageRaster{PageIndex: i, PNG: []byte{byte(i)}, Width: 100, Height: 100}
	}
	return rasters
}

func visualEngine(scorer TemplateScorer, recognizer Recognizer) *Engine {
	return New(nil, nil, scorer, recognizer, nil, Config{VisualConcurrency: 1}, nil)
}

func TestTemplateMatchPassesOnThreshold(t *testing.T) {
	scorer := &stubScorer{scores: map[string][]float64{
		"templates/logo.png": {0.1, 0.82, 0.9},
	}}
	e := visualEngine(scorer, nil)

	rule := rules.TemplateMatch{Name: "logo", Templates: []string{"templates/logo.png"}, Threshold: 0.8}
	res := e.evaluateVisualRule(context.Background(), testRasters(3), rule)

	if !res.Passed {
		t.Fatalf("expected pass, evidence: %s", res.Evidence)
	}
	if !strings.Contains(res.Evidence, "page 2") {
		t.Errorf("evidence should cite page 2, got %q", res.Evidence)
	}
	// Short-circuit: page 3 must not have been scored.
	for _, p := range scorer.calls {
		if p == 2 {
			t.Error("page 3 scored after a decisive page 2")
		}
	}
}

func TestTemplateMatchFailCitesBestSimilarity(t *testing.T) {
	scorer := &stubScorer{scores: map[string][]float64{
		"templates/logo.png": {0.12, 0.34},
	}}
	e := visualEngine(scorer, nil)

	rule := rules.TemplateMatch{Name: "logo", Templates: []string{"templates/logo.png"}, Threshold: 0.8}
	res := e.evaluateVisualRule(context.Background(), testRasters(2), rule)

	if res.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(res.Evidence, "0.34") {
		t.Errorf("evidence should cite best similarity 0.34, got %q", res.Evidence)
	}
}

func TestTemplateMatchMissingAssetBecomesEvidence(t *testing.T) {
	scorer := &stubScorer{errs: map[string]error{
		"templates/gone.png": common.NewAppError("ASSET_MISSING", "template not found in assets: templates/gone.png", common.ErrAssetNotFound),
	}}
	e := visualEngine(scorer, nil)

	rule := rules.TemplateMatch{Name: "logo", Templates: []string{"templates/gone.png"}, Threshold: 0.8}
	res := e.evaluateVisualRule(context.Background(), testRasters(1), rule)

	if res.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(res.Evidence, "templates/gone.png") {
		t.Errorf("evidence should describe the missing asset, got %q", res.Evidence)
	}
}

func TestTemplateMatchErrorKeptNextToBestScore(t *testing.T) {
	// One template is missing, the sibling scores below threshold: the
	// failure evidence must show both.
	scorer := &stubScorer{
		scores: map[string][]float64{"templates/logo.png": {0.2}},
		errs: map[string]error{
			"templates/gone.png": common.NewAppError("ASSET_MISSING", "template not found in assets: templates/gone.png", common.ErrAssetNotFound),
		},
	}
	e := visualEngine(scorer, nil)

	rule := rules.TemplateMatch{Name: "logo", Templates: []string{"templates/gone.png", "templates/logo.png"}, Threshold: 0.8}
	res := e.evaluateVisualRule(context.Background(), testRasters(1), rule)

	if res.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(res.Evidence, "0.20") {
		t.Errorf("evidence should cite the best similarity, got %q", res.Evidence)
	}
	if !strings.Contains(res.Evidence, "templates/gone.png") {
		t.Errorf("evidence should keep the missing-template error, got %q", res.Evidence)
	}
}

func TestTemplateMatchNoTemplates(t *testing.T) {
	e := visualEngine(&stubScorer{}, nil)
	res := e.evaluateVisualRule(context.Background(), testRasters(2), rules.TemplateMatch{Name: "x", Threshold: 0.5})
	if res.Passed || res.Evidence != "not evaluated" {
		t.Errorf("got passed=%t evidence=%q, want fail/not evaluated", res.Passed, res.Evidence)
	}
}

func TestTemplateForbidden(t *testing.T) {
	// All pages below 0.3: pass, citing the max similarity.
	scorer := &stubScorer{scores: map[string][]float64{
		"templates/viejo.png": {0.05, 0.21},
	}}
	e := visualEngine(scorer, nil)
	rule := rules.TemplateForbidden{Name: "sello", Template: "templates/viejo.png"}

	res := e.evaluateVisualRule(context.Background(), testRasters(2), rule)
	if !res.Passed {
		t.Fatalf("expected pass, evidence: %s", res.Evidence)
	}
	if !strings.Contains(res.Evidence, "0.21") {
		t.Errorf("evidence should cite max similarity 0.21, got %q", res.Evidence)
	}

	// One page at 0.45: immediate fail, later pages not scored.
	scorer = &stubScorer{scores: map[string][]float64{
		"templates/viejo.png": {0.45, 0.05},
	}}
	e = visualEngine(scorer, nil)
	res = e.evaluateVisualRule(context.Background(), testRasters(2), rule)
	if res.Passed {
		t.Fatal("expected fail at 0.45")
	}
	if !strings.Contains(res.Evidence, "0.45") || !strings.Contains(res.Evidence, "page 1") {
		t.Errorf("evidence = %q", res.Evidence)
	}
	if len(scorer.calls) != 1 {
		t.Errorf("expected short-circuit after page 1, scored pages %v", scorer.calls)
	}
}

func TestOCRTextPassesOnFirstMatchingPage(t *testing.T) {
	recognizer := &stubRecognizer{lines: map[int][]string{
		0: {"fabricado por", "ACME S.A."},
		1: {"hecho   en", "españa"},
		2: {"never read"},
	}}
	e := visualEngine(nil, recognizer)

	rule := rules.OCRText{Name: "origen", Patterns: []string{"HECHO EN ESPAÑA"}}
	res := e.evaluateVisualRule(context.Background(), testRasters(3), rule)

	if !res.Passed {
		t.Fatalf("expected pass, evidence: %s", res.Evidence)
	}
	if !strings.Contains(res.Evidence, "page 2") {
		t.Errorf("evidence should cite page 2, got %q", res.Evidence)
	}
	if len(recognizer.calls) != 2 {
		t.Errorf("expected recognition to stop after page 2, calls %v", recognizer.calls)
	}
}

func TestOCRTextRecognitionErrorBecomesEvidence(t *testing.T) {
	recognizer := &stubRecognizer{
		errs:  map[int]error{0: common.NewAppError("VISION_STATUS", `recognition finished with status "failed"`, common.ErrRecognition)},
		lines: map[int][]string{},
	}
	e := visualEngine(nil, recognizer)

	rule := rules.OCRText{Name: "origen", Patterns: []string{"HECHO EN ESPAÑA"}}
	res := e.evaluateVisualRule(context.Background(), testRasters(1), rule)

	if res.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(res.Evidence, "recognition error") {
		t.Errorf("evidence = %q", res.Evidence)
	}
}

func TestOCRTextErrorOnOnePageStillTriesNext(t *testing.T) {
	recognizer := &stubRecognizer{
		errs:  map[int]error{0: common.ErrRecognition},
		lines: map[int][]string{1: {"HECHO EN ESPAÑA"}},
	}
	e := visualEngine(nil, recognizer)

	rule := rules.OCRText{Name: "origen", Patterns: []string{"hecho en españa"}}
	res := e.evaluateVisualRule(context.Background(), testRasters(2), rule)
	if !res.Passed {
		t.Fatalf("page 2 should still be tried, evidence: %s", res.Evidence)
	}
}

func TestVisualRulesKeepDocumentOrder(t *testing.T) {
	scorer := &stubScorer{scores: map[string][]float64{
		"a.png": {0.9},
		"b.png": {0.1},
	}}
	e := New(nil, nil, scorer, nil, nil, Config{VisualConcurrency: 4}, nil)

	vrules := []rules.VisualRule{
		rules.TemplateMatch{Name: "primero", Templates: []string{"a.png"}, Threshold: 0.5},
		rules.TemplateMatch{Name: "segundo", Templates: []string{"b.png"}, Threshold: 0.5},
		rules.TemplateForbidden{Name: "tercero", Template: "b.png"},
	}
	results := e.evaluateVisualRules(context.Background(), testRasters(1), vrules)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	names := []string{results[0].RuleName, results[1].RuleName, results[2].RuleName}
	want := []string{"primero", "segundo", "tercero"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("result order %v, want %v", names, want)
		}
	}
	if !results[0].Passed || results[1].Passed || !results[2].Passed {
		t.Errorf("verdicts = %t %t %t", results[0].Passed, results[1].Passed, results[2].Passed)
	}
}

func TestNormalizeRecognized(t *testing.T) {
	got := normalizeRecognized("  hecho \t en\n españa ")
	if got != "HECHO EN ESPAÑA" {
		t.Errorf("normalizeRecognized = %q", got)
	}
}
