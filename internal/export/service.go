package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jhgiraldo/packaging-backend/internal/repository"
)

// Archive is the slice of the report archive the exporter needs.
type Archive interface {
	List(ctx context.Context, limit int) ([]repository.ArchivedReport, error)
}

// Service is a tiny façade over the report archive that produces XLSX bytes
// for reviewer exports.
type Service struct {
	archive Archive
	logger  *slog.Logger
}

func NewService(archive Archive, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{archive: archive, logger: logger}
}

// ExportReportsXLSX returns an XLSX workbook with one row per rule result of
// the most recent archived reports.
func (s *Service) ExportReportsXLSX(ctx context.Context, limit int) ([]byte, error) {
	start := time.Now()

	reports, err := s.archive.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Validaciones"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Archivo",
		"Estado",
		"Categoría",
		"Regla",
		"Cumple",
		"Evidencia",
		"Fecha",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, rep := range reports {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		if len(rep.Results) == 0 {
			write(1, rep.Filename)
			write(2, string(rep.Status))
			write(7, rep.CreatedAt.UTC().Format("2006-01-02 15:04"))
			row++
			continue
		}
		for _, res := range rep.Results {
			write(1, rep.Filename)
			write(2, string(rep.Status))
			write(3, string(res.Category))
			write(4, res.RuleName)
			if res.Passed {
				write(5, "Sí")
			} else {
				write(5, "No")
			}
			write(6, truncate(res.Evidence, 140))
			write(7, rep.CreatedAt.UTC().Format("2006-01-02 15:04"))
			row++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 32) // filename
	_ = f.SetColWidth(sheet, "B", "B", 12) // status
	_ = f.SetColWidth(sheet, "C", "C", 10) // category
	_ = f.SetColWidth(sheet, "D", "D", 28) // rule
	_ = f.SetColWidth(sheet, "F", "F", 60) // evidence
	_ = f.SetColWidth(sheet, "G", "G", 18) // date

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"reports", len(reports),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
