// Package export renders stored documents as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
	"github.com/joseph-ayodele/weldingest/internal/repository"
)

const (
	DocumentsSheet = "Documents"
	IssuesSheet    = "Issues"
)

var documentHeaders = []string{
	"ID", "Type", "Number", "Process", "Material", "Thickness (mm)", "Filler",
	"Shielding Gas", "Position", "Company", "Date", "Avg Conf", "Imported At", "File Path", "Issues",
}

var issueHeaders = []string{"Document ID", "Number", "Field", "Severity", "Message"}

// Filter selects the exported documents. A zero Filter exports everything.
type Filter struct {
	DocType constants.DocType
}

// Service is a tiny façade over the document repository that produces XLSX bytes.
type Service struct {
	docs   repository.DocumentRepository
	logger *slog.Logger
}

func NewService(docs repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, logger: logger}
}

// ExportXLSX returns a workbook with one row per document on the Documents
// sheet and one row per validation issue on the Issues sheet, oldest first.
func (s *Service) ExportXLSX(ctx context.Context, filter Filter) ([]byte, int, error) {
	start := time.Now()

	list, err := s.docs.List(ctx, repository.ListFilter{DocType: filter.DocType})
	if err != nil {
		return nil, 0, fmt.Errorf("query documents: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("failed to close workbook", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", DocumentsSheet); err != nil {
		return nil, 0, err
	}
	if _, err := f.NewSheet(IssuesSheet); err != nil {
		return nil, 0, err
	}
	writeHeader(f, DocumentsSheet, documentHeaders)
	writeHeader(f, IssuesSheet, issueHeaders)

	docRow, issueRow := 2, 2
	for i := len(list) - 1; i >= 0; i-- {
		doc, err := s.docs.Get(ctx, list[i].ID)
		if err != nil {
			return nil, 0, fmt.Errorf("load document %d: %w", list[i].ID, err)
		}
		writeRow(f, DocumentsSheet, docRow, documentValues(doc))
		docRow++
		for _, is := range doc.Issues {
			writeRow(f, IssuesSheet, issueRow, []any{doc.ID, doc.DocNumber, string(is.Field), string(is.Severity), is.Message})
			issueRow++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(DocumentsSheet, "C", "C", 22) // number
	_ = f.SetColWidth(DocumentsSheet, "E", "E", 24) // material
	_ = f.SetColWidth(DocumentsSheet, "J", "J", 28) // company
	_ = f.SetColWidth(DocumentsSheet, "M", "M", 22) // imported at
	_ = f.SetColWidth(DocumentsSheet, "N", "N", 60) // path
	_ = f.SetColWidth(IssuesSheet, "E", "E", 60)    // message
	if idx, err := f.GetSheetIndex(DocumentsSheet); err == nil {
		f.SetActiveSheet(idx)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"doc_type", filter.DocType,
		"rows", len(list),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), len(list), nil
}

// WriteFile exports to path and returns the number of documents written.
func (s *Service) WriteFile(ctx context.Context, path string, filter Filter) (int, error) {
	data, n, err := s.ExportXLSX(ctx, filter)
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}

func documentValues(d *entity.StoredDocument) []any {
	thickness := ""
	if d.ThicknessMM != nil {
		thickness = strconv.FormatFloat(*d.ThicknessMM, 'f', -1, 64)
	}
	return []any{
		d.ID,
		string(d.DocType),
		d.DocNumber,
		d.Process,
		d.Material,
		thickness,
		d.Filler,
		d.ShieldingGas,
		d.Position,
		d.Company,
		d.Date,
		strconv.FormatFloat(d.AvgConf, 'f', 2, 64),
		d.ImportedAt.UTC().Format(time.RFC3339),
		d.FilePath,
		len(d.Issues),
	}
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	writeRow(f, sheet, 1, row)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
