package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/edurisk-api/internal/models"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
	"github.com/noah-isme/edurisk-api/pkg/export"
)

// ReportFormat names a supported export format.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

type uploadReader interface {
	GetByID(ctx context.Context, id string) (*models.UploadManifest, error)
	ListRowResults(ctx context.Context, uploadID string) ([]models.RowResult, error)
}

// ReportService renders upload outcomes as downloadable documents.
type ReportService struct {
	uploads uploadReader
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewReportService constructs the report service.
func NewReportService(uploads uploadReader, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		uploads: uploads,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// ReportFile is a rendered document ready for download.
type ReportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// UploadReport renders the row-level outcome of one upload.
func (s *ReportService) UploadReport(ctx context.Context, uploadID string, format ReportFormat) (*ReportFile, error) {
	manifest, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, appErrors.ErrManifestNotFound
	}
	rows, err := s.uploads.ListRowResults(ctx, uploadID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load row results")
	}

	dataset := buildUploadDataset(rows)
	title := fmt.Sprintf("Upload report %s (%s)", manifest.FileName, manifest.Status)

	switch format {
	case ReportFormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &ReportFile{
			FileName:    fmt.Sprintf("upload-%s.csv", manifest.ID),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case ReportFormatPDF:
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &ReportFile{
			FileName:    fmt.Sprintf("upload-%s.pdf", manifest.ID),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report format %q", format))
	}
}

func buildUploadDataset(rows []models.RowResult) export.Dataset {
	headers := []string{"row", "status", "student_id", "full_name", "triggered_rules", "failure"}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		failure := ""
		if row.Failure != nil {
			failure = *row.Failure
		}
		out = append(out, map[string]string{
			"row":             fmt.Sprintf("%d", row.RowIndex),
			"status":          string(row.Status),
			"student_id":      row.Record[models.FieldStudentID],
			"full_name":       row.Record[models.FieldFullName],
			"triggered_rules": strings.Join(row.TriggeredRules, ";"),
			"failure":         failure,
		})
	}
	return export.Dataset{Headers: headers, Rows: out}
}
