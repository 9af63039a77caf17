// Package lang estimates which natural languages appear in a text blob.
package lang

import (
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// MinTextLength is the minimum input size (in runes) worth detecting.
// Shorter inputs are statistically unreliable and yield an empty set without
// invoking the detector.
const MinTextLength = 10

// Identifier wraps a lingua detector. The detector is immutable and safe for
// concurrent use, so one Identifier serves all validation runs.
type Identifier struct {
	detector lingua.LanguageDetector
	logger   *slog.Logger
}

func NewIdentifier(logger *slog.Logger) *Identifier {
	if logger == nil {
		logger = slog.Default()
	}
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()
	return &Identifier{detector: detector, logger: logger}
}

// Detect returns the sorted distinct ISO 639-1 codes of the languages found
// in text with above-noise confidence. Inconclusive input (too short, or no
// linguistic content) returns nil rather than an error.
func (i *Identifier) Detect(text string) []string {
	if utf8.RuneCountInString(text) < MinTextLength {
		return nil
	}

	seen := make(map[string]struct{})
	for _, res := range i.detector.DetectMultipleLanguagesOf(text) {
		code := strings.ToLower(res.Language().IsoCode639_1().String())
		seen[code] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}

	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	i.logger.Debug("lang.detect.ok", "languages", codes)
	return codes
}
