// Package engine is the document-compliance validation engine: it interprets
// a rule set against the text, visual and linguistic signals of one PDF and
// produces a compliance report.
package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhgiraldo/packaging-backend/internal/entity"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
	"github.com/jhgiraldo/packaging-backend/internal/rules"
)

// SpanExtractor produces the ordered styled text spans of a document.
type SpanExtractor interface {
	Extract(pdfBytes []byte) ([]pdfdoc.Span, error)
}

// PageRenderer rasterizes a document into one image per page, in page order.
type PageRenderer interface {
	Render(ctx context.Context, pdfBytes []byte) ([]pdfdoc.PageRaster, error)
}

// TemplateScorer scores presence of a reference image inside a page raster.
type TemplateScorer interface {
	Score(page pdfdoc.PageRaster, templateRef string) (float64, error)
}

// Recognizer extracts text lines from a page image via the external
// recognition service.
type Recognizer interface {
	Recognize(ctx context.Context, imageBytes []byte) ([]string, error)
}

// Detector estimates the set of languages present in a text blob.
type Detector interface {
	Detect(text string) []string
}

// Config holds engine tunables.
type Config struct {
	// VisualConcurrency bounds how many visual rules evaluate in parallel.
	// Pages within one rule are always walked in page order.
	VisualConcurrency int
}

// Engine coordinates the signal sources and rule evaluators for a single
// validation run. All run state is per-invocation; the engine itself holds
// only immutable collaborators and is safe for concurrent runs.
type Engine struct {
	spans      SpanExtractor
	renderer   PageRenderer
	scorer     TemplateScorer
	recognizer Recognizer
	detector   Detector
	cfg        Config
	logger     *slog.Logger
}

func New(spans SpanExtractor, renderer PageRenderer, scorer TemplateScorer, recognizer Recognizer, detector Detector, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VisualConcurrency <= 0 {
		cfg.VisualConcurrency = 2
	}
	return &Engine{
		spans:      spans,
		renderer:   renderer,
		scorer:     scorer,
		recognizer: recognizer,
		detector:   detector,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run validates one document against the rule set and returns the report
// plus the page rasters (for optional archival by the caller).
//
// Only input-decoding failures (common.ErrDocumentParse) or cancellation
// return an error; every rule-scoped failure is folded into the report.
func (e *Engine) Run(ctx context.Context, docName string, pdfBytes []byte, set rules.Set) (*entity.Report, []pdfdoc.PageRaster, error) {
	start := time.Now()

	var spans []pdfdoc.Span
	var rasters []pdfdoc.PageRaster

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		spans, err = e.spans.Extract(pdfBytes)
		return err
	})
	g.Go(func() error {
		var err error
		rasters, err = e.renderer.Render(gctx, pdfBytes)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	fullText := pdfdoc.JoinSpanText(spans)

	var textResults, visualResults, langResults []entity.RuleResult
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		textResults = EvaluateTextRules(spans, set.Text)
		return nil
	})
	eg.Go(func() error {
		visualResults = e.evaluateVisualRules(egctx, rasters, set.Visual)
		return nil
	})
	eg.Go(func() error {
		langResults = e.evaluateLanguageRules(fullText, set.Language)
		return nil
	})
	_ = eg.Wait()

	// A canceled run must abort, not surface as a report full of
	// canceled-rule verdicts the caller could mistake for Rechazado.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	results := make([]entity.RuleResult, 0, len(textResults)+len(visualResults)+len(langResults))
	results = append(results, textResults...)
	results = append(results, visualResults...)
	results = append(results, langResults...)

	report := BuildReport(docName, results)

	e.logger.Info("engine.run.ok",
		"doc", docName,
		"pages", len(rasters),
		"spans", len(spans),
		"rules", set.Len(),
		"status", string(report.OverallStatus),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return report, rasters, nil
}

func (e *Engine) evaluateLanguageRules(fullText string, lrules []rules.LanguageRule) []entity.RuleResult {
	if len(lrules) == 0 {
		return nil
	}
	detected := e.detector.Detect(fullText)
	return EvaluateLanguageRules(detected, lrules)
}
