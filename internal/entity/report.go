package entity

// Status is the overall verdict of a validation run. The wire values are the
// Spanish terms fixed by the report contract.
type Status string

const (
	StatusApproved Status = "Aprobado"
	StatusRejected Status = "Rechazado"
)

// Category identifies which evaluator produced a rule result.
type Category string

const (
	CategoryText     Category = "Texto"
	CategoryVisual   Category = "Visual"
	CategoryLanguage Category = "Idiomas"
)

// RuleResult is the verdict for a single rule, with a human-readable
// evidence string sufficient to understand why it passed or failed.
type RuleResult struct {
	Category Category `json:"categoria"`
	RuleName string   `json:"regla"`
	Passed   bool     `json:"cumple"`
	Evidence string   `json:"evidencia"`
}

// Report is the terminal artifact of a validation run. It is never mutated
// after creation.
type Report struct {
	DocumentName  string       `json:"archivo"`
	OverallStatus Status       `json:"estado_general"`
	Results       []RuleResult `json:"resultados"`
}
