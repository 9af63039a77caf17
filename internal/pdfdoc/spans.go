// Package pdfdoc turns raw PDF bytes into the two inputs the validation
// engine works from: an ordered sequence of styled text spans and one raster
// image per page.
package pdfdoc

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jhgiraldo/packaging-backend/internal/common"
)

// Span is a contiguous run of same-styled text in document reading order.
type Span struct {
	Text string
	Bold bool
}

// DefaultBoldKeywords are the font-name fragments treated as bold weights.
// Bold detection is an explicit heuristic over the span's font identifier,
// not true style introspection; rule authors rely on this exact list.
var DefaultBoldKeywords = []string{"bold", "black", "negrita", "heavy"}

// SpanExtractor extracts styled text spans from PDF bytes.
type SpanExtractor struct {
	boldKeywords []string
	logger       *slog.Logger
}

// NewSpanExtractor builds an extractor. A nil or empty keyword list selects
// DefaultBoldKeywords.
func NewSpanExtractor(boldKeywords []string, logger *slog.Logger) *SpanExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if len(boldKeywords) == 0 {
		boldKeywords = DefaultBoldKeywords
	}
	lowered := make([]string, len(boldKeywords))
	for i, k := range boldKeywords {
		lowered[i] = strings.ToLower(k)
	}
	return &SpanExtractor{boldKeywords: lowered, logger: logger}
}

// Extract returns the document's text spans in reading order. Spans that are
// empty after trimming are dropped. Unreadable input yields
// common.ErrDocumentParse; the pdf library is known to panic on some
// malformed files, so panics are recovered into the same error kind.
func (e *SpanExtractor) Extract(pdfBytes []byte) (spans []Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("pdfdoc.spans.panic", "panic", fmt.Sprint(r))
			spans = nil
			err = common.NewAppError("DOC_PARSE", "pdf text extraction panicked", common.ErrDocumentParse)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, common.NewAppError("DOC_PARSE", "open pdf", common.ErrDocumentParse)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		spans = append(spans, e.pageSpans(page)...)
	}
	return spans, nil
}

// pageSpans merges the page's character-level text runs into spans, breaking
// on font change or baseline change.
func (e *SpanExtractor) pageSpans(page pdf.Page) []Span {
	texts := page.Content().Text
	var spans []Span

	var buf strings.Builder
	var curFont string
	var curY float64
	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		spans = append(spans, Span{Text: text, Bold: e.IsBoldFont(curFont)})
	}

	for idx, t := range texts {
		if idx == 0 || t.Font != curFont || t.Y != curY {
			flush()
			curFont = t.Font
			curY = t.Y
		}
		buf.WriteString(t.S)
	}
	flush()
	return spans
}

// IsBoldFont reports whether the font identifier names a bold or black
// weight, by case-insensitive substring match against the keyword list.
func (e *SpanExtractor) IsBoldFont(font string) bool {
	f := strings.ToLower(font)
	for _, k := range e.boldKeywords {
		if strings.Contains(f, k) {
			return true
		}
	}
	return false
}

// JoinSpanText concatenates span texts with single spaces, the form the text
// and language evaluators match against.
func JoinSpanText(spans []Span) string {
	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}
