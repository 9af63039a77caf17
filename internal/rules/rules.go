// Package rules models the declarative compliance rule grammar.
//
// A rule document groups rules into three categories (text, visual, language).
// Each category is represented as a closed sum type: adding a rule kind means
// adding a concrete struct here and a case to the matching evaluator, which
// keeps dispatch exhaustive at compile time instead of stringly-typed.
package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jhgiraldo/packaging-backend/internal/common"
)

// Rule tags as they appear in the rule document (`tipo`).
const (
	TipoIngredientsTitle  = "ingredientes_titulo"
	TipoAllergens         = "alergenos"
	TipoRegexRequired     = "regex_valido"
	TipoRegexForbidden    = "regex_invalido"
	TipoTextPresence      = "texto"
	TipoConditionalText   = "texto_condicional"
	TipoTemplateMatch     = "template_match"
	TipoTemplateForbidden = "template_prohibido"
	TipoOCRText           = "ocr_text"
	TipoLanguageMinimum   = "min_idiomas"
)

// DefaultThreshold is the similarity cutoff used when a template rule does
// not carry an explicit `umbral`, and the fixed cutoff for forbidden
// templates.
const DefaultThreshold = 0.3

// TextRule is a rule evaluated against the extracted text spans.
type TextRule interface {
	RuleName() string
	isTextRule()
}

// VisualRule is a rule evaluated against the rasterized pages.
type VisualRule interface {
	RuleName() string
	isVisualRule()
}

// LanguageRule is a rule evaluated against the detected language set.
type LanguageRule interface {
	RuleName() string
	isLanguageRule()
}

// IngredientsTitle requires the ingredients heading to be bold and not
// entirely uppercase.
type IngredientsTitle struct {
	Name string
}

// Allergens requires at least one listed allergen to appear fully uppercase
// and not bold somewhere in the document.
type Allergens struct {
	Name string
	List []string
}

// RegexRequired passes when the pattern matches the concatenated text.
type RegexRequired struct {
	Name    string
	Pattern string
}

// RegexForbidden passes when the pattern has zero matches.
type RegexForbidden struct {
	Name    string
	Pattern string
}

// TextPresence matches like RegexRequired; kept as a distinct variant for
// rule-authoring clarity.
type TextPresence struct {
	Name    string
	Pattern string
}

// Condition pairs a trigger marker with the pattern that must then match.
type Condition struct {
	Marker  string `json:"marca"`
	Pattern string `json:"patron"`
}

// ConditionalText applies the first condition whose marker is present in the
// document text; with no matching marker the rule passes vacuously.
type ConditionalText struct {
	Name       string
	Conditions []Condition
}

// TemplateMatch requires at least one listed template to be found on at
// least one page with similarity >= Threshold.
type TemplateMatch struct {
	Name      string
	Templates []string
	Threshold float64
}

// TemplateForbidden requires the template to stay below the fixed forbidden
// threshold on every page.
type TemplateForbidden struct {
	Name     string
	Template string
}

// OCRText requires one of the patterns to appear in the text recognized from
// some page image.
type OCRText struct {
	Name     string
	Patterns []string
}

// LanguageMinimum requires at least MinCount distinct languages.
type LanguageMinimum struct {
	Name     string
	MinCount int
}

func (r IngredientsTitle) RuleName() string  { return r.Name }
func (r Allergens) RuleName() string         { return r.Name }
func (r RegexRequired) RuleName() string     { return r.Name }
func (r RegexForbidden) RuleName() string    { return r.Name }
func (r TextPresence) RuleName() string      { return r.Name }
func (r ConditionalText) RuleName() string   { return r.Name }
func (r TemplateMatch) RuleName() string     { return r.Name }
func (r TemplateForbidden) RuleName() string { return r.Name }
func (r OCRText) RuleName() string           { return r.Name }
func (r LanguageMinimum) RuleName() string   { return r.Name }

func (IngredientsTitle) isTextRule()     {}
func (Allergens) isTextRule()            {}
func (RegexRequired) isTextRule()        {}
func (RegexForbidden) isTextRule()       {}
func (TextPresence) isTextRule()         {}
func (ConditionalText) isTextRule()      {}
func (TemplateMatch) isVisualRule()      {}
func (TemplateForbidden) isVisualRule()  {}
func (OCRText) isVisualRule()            {}
func (LanguageMinimum) isLanguageRule()  {}

// Set is a fully-parsed rule document. Rules keep their document order;
// duplicate names are allowed and are reported as separate results.
type Set struct {
	Text     []TextRule
	Visual   []VisualRule
	Language []LanguageRule
}

// Empty reports whether the set contains no rules at all.
func (s Set) Empty() bool {
	return len(s.Text) == 0 && len(s.Visual) == 0 && len(s.Language) == 0
}

// Len returns the total number of rules across categories.
func (s Set) Len() int {
	return len(s.Text) + len(s.Visual) + len(s.Language)
}

type rawRule struct {
	Nombre      string      `json:"nombre"`
	Tipo        string      `json:"tipo"`
	Patron      string      `json:"patron"`
	Lista       []string    `json:"lista"`
	Condiciones []Condition `json:"condiciones"`
	Templates   []string    `json:"templates"`
	Template    string      `json:"template"`
	Umbral      *float64    `json:"umbral"`
	Patrones    []string    `json:"patrones"`
	MinIdiomas  *int        `json:"min_idiomas"`
}

type rawDocument struct {
	Texto   []rawRule `json:"texto"`
	Visual  []rawRule `json:"visual"`
	Idiomas []rawRule `json:"idiomas"`
}

// Load reads and parses the rule document at path.
//
// A missing file is not an error: it yields an empty set, so a run against it
// reports Aprobado with zero results. This soft-degrade is observed behavior
// of the system the rules were written for and is preserved deliberately.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, nil
		}
		return Set{}, fmt.Errorf("read rule document: %w", err)
	}
	return Parse(data)
}

// Parse builds a Set from raw rule document JSON. The document is first
// checked against the rule-document JSON schema; unknown rule tags are a
// parse error rather than a skipped rule.
func Parse(data []byte) (Set, error) {
	if err := validateDocument(data); err != nil {
		return Set{}, common.NewAppError("RULES_SCHEMA", "rule document rejected by schema", err)
	}

	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Set{}, fmt.Errorf("decode rule document: %w", err)
	}

	var set Set
	for i, r := range doc.Texto {
		tr, err := buildTextRule(r)
		if err != nil {
			return Set{}, fmt.Errorf("texto[%d] (%q): %w", i, r.Nombre, err)
		}
		set.Text = append(set.Text, tr)
	}
	for i, r := range doc.Visual {
		vr, err := buildVisualRule(r)
		if err != nil {
			return Set{}, fmt.Errorf("visual[%d] (%q): %w", i, r.Nombre, err)
		}
		set.Visual = append(set.Visual, vr)
	}
	for i, r := range doc.Idiomas {
		lr, err := buildLanguageRule(r)
		if err != nil {
			return Set{}, fmt.Errorf("idiomas[%d] (%q): %w", i, r.Nombre, err)
		}
		set.Language = append(set.Language, lr)
	}
	return set, nil
}

func buildTextRule(r rawRule) (TextRule, error) {
	switch r.Tipo {
	case TipoIngredientsTitle:
		return IngredientsTitle{Name: r.Nombre}, nil
	case TipoAllergens:
		return Allergens{Name: r.Nombre, List: r.Lista}, nil
	case TipoRegexRequired:
		return RegexRequired{Name: r.Nombre, Pattern: r.Patron}, nil
	case TipoRegexForbidden:
		return RegexForbidden{Name: r.Nombre, Pattern: r.Patron}, nil
	case TipoTextPresence:
		return TextPresence{Name: r.Nombre, Pattern: r.Patron}, nil
	case TipoConditionalText:
		return ConditionalText{Name: r.Nombre, Conditions: r.Condiciones}, nil
	default:
		return nil, fmt.Errorf("unknown text rule tipo %q", r.Tipo)
	}
}

func buildVisualRule(r rawRule) (VisualRule, error) {
	switch r.Tipo {
	case TipoTemplateMatch:
		templates := r.Templates
		if len(templates) == 0 && r.Template != "" {
			templates = []string{r.Template}
		}
		threshold := DefaultThreshold
		if r.Umbral != nil {
			threshold = *r.Umbral
		}
		return TemplateMatch{Name: r.Nombre, Templates: templates, Threshold: threshold}, nil
	case TipoTemplateForbidden:
		return TemplateForbidden{Name: r.Nombre, Template: r.Template}, nil
	case TipoOCRText:
		return OCRText{Name: r.Nombre, Patterns: r.Patrones}, nil
	default:
		return nil, fmt.Errorf("unknown visual rule tipo %q", r.Tipo)
	}
}

func buildLanguageRule(r rawRule) (LanguageRule, error) {
	// Language rules historically carried no tipo; accept the bare form.
	if r.Tipo != "" && r.Tipo != TipoLanguageMinimum {
		return nil, fmt.Errorf("unknown language rule tipo %q", r.Tipo)
	}
	minCount := 1
	if r.MinIdiomas != nil {
		minCount = *r.MinIdiomas
	}
	return LanguageMinimum{Name: r.Nombre, MinCount: minCount}, nil
}
