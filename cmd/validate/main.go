// Command validate runs the compliance engine against a local PDF and prints
// the report JSON, for rule authoring and debugging without the HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jhgiraldo/packaging-backend/internal/common"
	"github.com/jhgiraldo/packaging-backend/internal/engine"
	"github.com/jhgiraldo/packaging-backend/internal/lang"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
	"github.com/jhgiraldo/packaging-backend/internal/rules"
	"github.com/jhgiraldo/packaging-backend/internal/vision"
)

func main() {
	rulesPath := flag.String("rules", "assets/Reglas.json", "path to the rule document")
	assetsRoot := flag.String("assets", "assets", "assets root for template images")
	dpi := flag.Int("dpi", 300, "rasterization DPI")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall validation timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: validate [flags] <document.pdf>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	pdfPath := flag.Arg(0)

	pdfBytes, err := os.ReadFile(pdfPath)
	if err != nil {
		logger.Error("read pdf", "path", pdfPath, "error", err)
		os.Exit(1)
	}

	set, err := rules.Load(*rulesPath)
	if err != nil {
		logger.Error("load rules", "path", *rulesPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	visionCfg := vision.ReadClientConfig{
		Endpoint: os.Getenv("VISION_ENDPOINT"),
		Key:      os.Getenv("VISION_KEY"),
	}

	eng := engine.New(
		pdfdoc.NewSpanExtractor(nil, logger),
		pdfdoc.NewRenderer(pdfdoc.RenderConfig{DPI: *dpi}, logger),
		vision.NewScorer(*assetsRoot, logger),
		vision.NewReadClient(visionCfg, nil, logger),
		lang.NewIdentifier(logger),
		engine.Config{},
		logger,
	)

	report, _, err := eng.Run(ctx, filepath.Base(pdfPath), pdfBytes, set)
	if err != nil {
		if errors.Is(err, common.ErrDocumentParse) {
			logger.Error("document could not be parsed as PDF", "path", pdfPath)
		} else {
			logger.Error("validation failed", "error", err)
		}
		os.Exit(1)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("encode report", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
