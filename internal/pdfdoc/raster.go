package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhgiraldo/packaging-backend/internal/common"
)

// PageRaster is one page rendered at a fixed DPI. It is owned exclusively by
// the validation run that created it; the backing temp files are removed
// before Render returns, so nothing outlives the run.
type PageRaster struct {
	PageIndex int
	PNG       []byte
	Width     int
	Height    int
}

// RenderConfig controls rasterization.
type RenderConfig struct {
	Pdftoppm    string // binary name or absolute path; if empty -> "pdftoppm"
	DPI         int    // default 300
	Concurrency int    // parallel page loads, default 4
	MaxPages    int    // 0 = no limit
}

// Renderer rasterizes PDF pages through poppler's pdftoppm.
type Renderer struct {
	cfg    RenderConfig
	runner Runner
	logger *slog.Logger
}

func NewRenderer(cfg RenderConfig, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Renderer{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// Render rasterizes every page of the document, in page order. The temp
// directory backing the render is reclaimed on every exit path. Input that
// pdftoppm cannot read yields common.ErrDocumentParse.
func (r *Renderer) Render(ctx context.Context, pdfBytes []byte) ([]PageRaster, error) {
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "pv-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			r.logger.Warn("pdfdoc.render.cleanup_failed", "dir", tmpDir, "error", rmErr)
		}
	}()

	inPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(inPath, pdfBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write render input: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", r.cfg.DPI), "-png", inPath, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, common.NewAppError("DOC_PARSE",
			fmt.Sprintf("pdftoppm failed: %s", truncate(string(errb), 512)),
			common.ErrDocumentParse)
	}

	// pdftoppm zero-pads page numbers to a fixed width, so the lexicographic
	// order of prefix-1.png, prefix-2.png, ... is page order.
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if r.cfg.MaxPages > 0 && len(matches) > r.cfg.MaxPages {
		matches = matches[:r.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, common.NewAppError("DOC_PARSE", "pdftoppm produced no pages", common.ErrDocumentParse)
	}

	rasters := make([]PageRaster, len(matches))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, path := range matches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read rendered page %d: %w", i+1, err)
			}
			cfg, err := png.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("decode rendered page %d: %w", i+1, err)
			}
			rasters[i] = PageRaster{PageIndex: i, PNG: data, Width: cfg.Width, Height: cfg.Height}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Debug("pdfdoc.render.ok",
		"pages", len(rasters),
		"dpi", r.cfg.DPI,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rasters, nil
}
