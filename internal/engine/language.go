package engine

import (
	"fmt"

	"github.com/jhgiraldo/packaging-backend/internal/entity"
	"github.com/jhgiraldo/packaging-backend/internal/rules"
)

// EvaluateLanguageRules interprets the language-category rules against the
// detected language set. Pure function over its inputs.
func EvaluateLanguageRules(detected []string, lrules []rules.LanguageRule) []entity.RuleResult {
	results := make([]entity.RuleResult, 0, len(lrules))
	for _, rule := range lrules {
		var passed bool
		var evidence string

		switch r := rule.(type) {
		case rules.LanguageMinimum:
			passed = len(detected) >= r.MinCount
			if len(detected) == 0 {
				evidence = "no languages detected"
			} else {
				evidence = fmt.Sprintf("detected languages: %v", detected)
			}
		default:
			passed, evidence = false, fmt.Sprintf("unhandled rule kind %T", rule)
		}

		results = append(results, entity.RuleResult{
			Category: entity.CategoryLanguage,
			RuleName: rule.RuleName(),
			Passed:   passed,
			Evidence: evidence,
		})
	}
	return results
}
