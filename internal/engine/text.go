package engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/jhgiraldo/packaging-backend/internal/entity"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
	"github.com/jhgiraldo/packaging-backend/internal/rules"
)

// ingredientsPrefix marks the span that carries the ingredients heading.
const ingredientsPrefix = "ingredientes"

// EvaluateTextRules interprets every text-category rule against the ordered
// span sequence and its concatenation. It is a pure function: same spans and
// rules, same results.
func EvaluateTextRules(spans []pdfdoc.Span, textRules []rules.TextRule) []entity.RuleResult {
	fullText := pdfdoc.JoinSpanText(spans)
	upperText := strings.ToUpper(fullText)

	results := make([]entity.RuleResult, 0, len(textRules))
	for _, rule := range textRules {
		var passed bool
		var evidence string

		switch r := rule.(type) {
		case rules.IngredientsTitle:
			passed, evidence = evalIngredientsTitle(spans)
		case rules.Allergens:
			passed, evidence = evalAllergens(spans, r.List)
		case rules.RegexRequired:
			passed, evidence = evalRegexMatch(fullText, r.Pattern, "pattern found", "pattern missing")
		case rules.TextPresence:
			passed, evidence = evalRegexMatch(fullText, r.Pattern, "text present", "text absent")
		case rules.RegexForbidden:
			passed, evidence = evalRegexForbidden(fullText, r.Pattern)
		case rules.ConditionalText:
			passed, evidence = evalConditionalText(fullText, upperText, r.Conditions)
		default:
			passed, evidence = false, fmt.Sprintf("unhandled rule kind %T", rule)
		}

		results = append(results, entity.RuleResult{
			Category: entity.CategoryText,
			RuleName: rule.RuleName(),
			Passed:   passed,
			Evidence: evidence,
		})
	}
	return results
}

// evalIngredientsTitle finds the first span starting (lowercased) with the
// ingredients prefix; it must be bold and not fully uppercase.
func evalIngredientsTitle(spans []pdfdoc.Span) (bool, string) {
	for _, s := range spans {
		if !strings.HasPrefix(strings.ToLower(s.Text), ingredientsPrefix) {
			continue
		}
		ok := s.Bold && !isAllUpper(s.Text)
		return ok, fmt.Sprintf("found %q (bold=%t, uppercase=%t)", s.Text, s.Bold, isAllUpper(s.Text))
	}
	return false, "not found"
}

// evalAllergens checks each listed allergen across all spans. An allergen is
// correct when some span containing it is fully uppercase and not bold. The
// rule passes when at least one allergen is correct; it does not require all
// of them (business policy, not an oversight).
func evalAllergens(spans []pdfdoc.Span, list []string) (bool, string) {
	if len(list) == 0 {
		return false, "empty allergen list"
	}

	var correct, incorrect []string
	for _, allergen := range list {
		needle := strings.ToUpper(allergen)
		matched, valid := false, false
		for _, s := range spans {
			if !strings.Contains(strings.ToUpper(s.Text), needle) {
				continue
			}
			matched = true
			if isAllUpper(s.Text) && !s.Bold {
				valid = true
				break
			}
		}
		switch {
		case valid:
			correct = append(correct, allergen)
		case matched:
			incorrect = append(incorrect, allergen)
		}
	}
	return len(correct) > 0, fmt.Sprintf("correct: %v | incorrect: %v", correct, incorrect)
}

func evalRegexMatch(fullText, pattern, passEvidence, failEvidence string) (bool, string) {
	re, err := compileInsensitive(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid pattern %q: %v", pattern, err)
	}
	if re.MatchString(fullText) {
		return true, passEvidence
	}
	return false, failEvidence
}

func evalRegexForbidden(fullText, pattern string) (bool, string) {
	re, err := compileInsensitive(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid pattern %q: %v", pattern, err)
	}
	matches := re.FindAllString(fullText, -1)
	if len(matches) == 0 {
		return true, "no forbidden matches"
	}
	return false, fmt.Sprintf("forbidden matches: %v", matches)
}

// evalConditionalText applies the first condition whose marker appears in
// the uppercased document text; with no applicable marker the rule passes
// vacuously.
func evalConditionalText(fullText, upperText string, conditions []rules.Condition) (bool, string) {
	for _, c := range conditions {
		if !strings.Contains(upperText, strings.ToUpper(c.Marker)) {
			continue
		}
		re, err := compileInsensitive(c.Pattern)
		if err != nil {
			return false, fmt.Sprintf("marker %q: invalid pattern %q: %v", c.Marker, c.Pattern, err)
		}
		if re.MatchString(fullText) {
			return true, fmt.Sprintf("marker %q -> pattern matched", c.Marker)
		}
		return false, fmt.Sprintf("marker %q -> pattern missing", c.Marker)
	}
	return true, "not applicable"
}

func compileInsensitive(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// isAllUpper reports whether s contains at least one letter and no lowercase
// letters, mirroring how rule authors think about "written in uppercase".
func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
