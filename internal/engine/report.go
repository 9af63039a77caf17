package engine

import (
	"github.com/jhgiraldo/packaging-backend/internal/entity"
)

// BuildReport aggregates rule results into the final compliance report. The
// overall status is the conjunction of all passed flags, so an empty result
// list approves. Pure function, performs no I/O, cannot fail.
func BuildReport(docName string, results []entity.RuleResult) *entity.Report {
	if results == nil {
		results = []entity.RuleResult{}
	}
	status := entity.StatusApproved
	for _, r := range results {
		if !r.Passed {
			status = entity.StatusRejected
			break
		}
	}
	return &entity.Report{
		DocumentName:  docName,
		OverallStatus: status,
		Results:       results,
	}
}
