package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jhgiraldo/packaging-backend/internal/entity"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
	"github.com/jhgiraldo/packaging-backend/internal/rules"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// evaluateVisualRules evaluates every visual rule. Rules are independent and
// run concurrently (bounded); within one rule, pages are walked strictly in
// page order so the first decisive page wins reproducibly.
func (e *Engine) evaluateVisualRules(ctx context.Context, rasters []pdfdoc.PageRaster, vrules []rules.VisualRule) []entity.RuleResult {
	if len(vrules) == 0 {
		return nil
	}
	results := make([]entity.RuleResult, len(vrules))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.VisualConcurrency)
	for i, rule := range vrules {
		g.Go(func() error {
			results[i] = e.evaluateVisualRule(ctx, rasters, rule)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) evaluateVisualRule(ctx context.Context, rasters []pdfdoc.PageRaster, rule rules.VisualRule) entity.RuleResult {
	var passed bool
	var evidence string

	switch r := rule.(type) {
	case rules.TemplateMatch:
		passed, evidence = e.evalTemplateMatch(ctx, rasters, r)
	case rules.TemplateForbidden:
		passed, evidence = e.evalTemplateForbidden(ctx, rasters, r)
	case rules.OCRText:
		passed, evidence = e.evalOCRText(ctx, rasters, r)
	default:
		passed, evidence = false, fmt.Sprintf("unhandled rule kind %T", rule)
	}

	return entity.RuleResult{
		Category: entity.CategoryVisual,
		RuleName: rule.RuleName(),
		Passed:   passed,
		Evidence: evidence,
	}
}

// evalTemplateMatch passes as soon as any listed template reaches the rule
// threshold on any page. Asset and decode errors are remembered as evidence
// but never abort the rule: later pages or templates may still match.
func (e *Engine) evalTemplateMatch(ctx context.Context, rasters []pdfdoc.PageRaster, r rules.TemplateMatch) (bool, string) {
	if len(r.Templates) == 0 || len(rasters) == 0 {
		return false, "not evaluated"
	}

	best := -2.0
	var bestTmpl string
	var bestPage int
	var lastErr string

	for _, page := range rasters {
		if ctx.Err() != nil {
			return false, "canceled before a decisive page"
		}
		for _, tmpl := range r.Templates {
			sim, err := e.scorer.Score(page, tmpl)
			if err != nil {
				lastErr = err.Error()
				continue
			}
			if sim > best {
				best, bestTmpl, bestPage = sim, tmpl, page.PageIndex+1
			}
			if sim >= r.Threshold {
				return true, fmt.Sprintf("template %s on page %d: similarity %.2f (required >= %.2f)",
					tmpl, page.PageIndex+1, sim, r.Threshold)
			}
		}
	}

	if best > -2.0 {
		evidence := fmt.Sprintf("no template reached %.2f; best %s on page %d at %.2f",
			r.Threshold, bestTmpl, bestPage, best)
		if lastErr != "" {
			evidence += "; last error: " + lastErr
		}
		return false, evidence
	}
	if lastErr != "" {
		return false, lastErr
	}
	return false, "not evaluated"
}

// evalTemplateForbidden fails on the first page where the template shows up
// at or above the fixed forbidden threshold; it passes only after every page
// stayed below it.
func (e *Engine) evalTemplateForbidden(ctx context.Context, rasters []pdfdoc.PageRaster, r rules.TemplateForbidden) (bool, string) {
	if r.Template == "" || len(rasters) == 0 {
		return false, "not evaluated"
	}

	maxSim := -2.0
	for _, page := range rasters {
		if ctx.Err() != nil {
			return false, "canceled before a decisive page"
		}
		sim, err := e.scorer.Score(page, r.Template)
		if err != nil {
			return false, err.Error()
		}
		if sim > maxSim {
			maxSim = sim
		}
		if sim >= rules.DefaultThreshold {
			return false, fmt.Sprintf("template %s found on page %d: similarity %.2f (forbidden >= %.2f)",
				r.Template, page.PageIndex+1, sim, rules.DefaultThreshold)
		}
	}
	return true, fmt.Sprintf("max similarity %.2f below forbidden threshold %.2f", maxSim, rules.DefaultThreshold)
}

// evalOCRText sends pages to the recognizer in page order and passes at the
// first page whose normalized text contains any configured pattern.
// Recognition errors become evidence for that page and the next page is
// still tried.
func (e *Engine) evalOCRText(ctx context.Context, rasters []pdfdoc.PageRaster, r rules.OCRText) (bool, string) {
	if len(r.Patterns) == 0 || len(rasters) == 0 {
		return false, "not evaluated"
	}

	evidence := "not evaluated"
	for _, page := range rasters {
		if ctx.Err() != nil {
			return false, "canceled before a decisive page"
		}
		lines, err := e.recognizer.Recognize(ctx, page.PNG)
		if err != nil {
			evidence = fmt.Sprintf("recognition error on page %d: %v", page.PageIndex+1, err)
			continue
		}
		norm := normalizeRecognized(strings.Join(lines, " "))
		for _, p := range r.Patterns {
			if strings.Contains(norm, normalizeRecognized(p)) {
				return true, fmt.Sprintf("pattern %q recognized on page %d", p, page.PageIndex+1)
			}
		}
		evidence = fmt.Sprintf("page %d read: %s", page.PageIndex+1, snippet(norm, 50))
	}
	return false, evidence
}

// normalizeRecognized uppercases and collapses whitespace so recognized text
// and configured patterns compare on equal footing.
func normalizeRecognized(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToUpper(s), " "))
}

func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
