package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhgiraldo/packaging-backend/internal/common"
	"github.com/jhgiraldo/packaging-backend/internal/entity"
)

// ArchivedReport is one stored validation run.
type ArchivedReport struct {
	ID        uuid.UUID
	Filename  string
	Status    entity.Status
	Results   []entity.RuleResult
	CreatedAt time.Time
}

// ReportArchive stores finished compliance reports for later review.
type ReportArchive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewReportArchive(pool *pgxpool.Pool, logger *slog.Logger) *ReportArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportArchive{pool: pool, logger: logger}
}

// EnsureSchema creates the archive table if it does not exist.
func (a *ReportArchive) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS validation_reports (
	id          uuid PRIMARY KEY,
	filename    text NOT NULL,
	status      text NOT NULL,
	results     jsonb NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now()
)`
	if _, err := a.pool.Exec(ctx, ddl); err != nil {
		return common.NewAppError("DB_SCHEMA", "create validation_reports table", err)
	}
	return nil
}

// Insert stores a report and returns its archive id.
func (a *ReportArchive) Insert(ctx context.Context, report *entity.Report) (uuid.UUID, error) {
	id := uuid.New()
	results, err := json.Marshal(report.Results)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode results: %w", err)
	}

	const q = `
INSERT INTO validation_reports (id, filename, status, results)
VALUES ($1, $2, $3, $4)`
	if _, err := a.pool.Exec(ctx, q, id, report.DocumentName, string(report.OverallStatus), results); err != nil {
		a.logger.Error("repository.reports.insert_failed", "filename", report.DocumentName, "error", err)
		return uuid.Nil, common.NewAppError("DB_INSERT", "insert validation report", err)
	}
	a.logger.Info("repository.reports.inserted",
		"id", id.String(),
		"filename", report.DocumentName,
		"status", string(report.OverallStatus),
	)
	return id, nil
}

// List returns archived reports, newest first.
func (a *ReportArchive) List(ctx context.Context, limit int) ([]ArchivedReport, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
SELECT id, filename, status, results, created_at
FROM validation_reports
ORDER BY created_at DESC
LIMIT $1`
	rows, err := a.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, common.NewAppError("DB_QUERY", "list validation reports", err)
	}
	defer rows.Close()

	var out []ArchivedReport
	for rows.Next() {
		var r ArchivedReport
		var results []byte
		if err := rows.Scan(&r.ID, &r.Filename, &r.Status, &results, &r.CreatedAt); err != nil {
			return nil, common.NewAppError("DB_SCAN", "scan validation report", err)
		}
		if err := json.Unmarshal(results, &r.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError("DB_QUERY", "iterate validation reports", err)
	}
	return out, nil
}
