package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/phd-adp-api/internal/models"
	appErrors "github.com/noah-isme/phd-adp-api/pkg/errors"
	"github.com/noah-isme/phd-adp-api/pkg/export"
)

// ExportFormat identifies a supported history export encoding.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

type historyProvider interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Subject, error)
	History(ctx context.Context, subjectID string, actor *models.JWTClaims) ([]models.TransitionRecord, error)
}

// ExportService renders a subject's transition history as a downloadable
// attestation document.
type ExportService struct {
	workflow historyProvider
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
}

// NewExportService constructs the exporter.
func NewExportService(workflow historyProvider) *ExportService {
	return &ExportService{
		workflow: workflow,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
	}
}

// HistoryDocument renders the history of a subject in the requested format.
// Access is scoped the same way as the history query itself.
func (s *ExportService) HistoryDocument(ctx context.Context, subjectID string, format ExportFormat, actor *models.JWTClaims) ([]byte, string, error) {
	subject, err := s.workflow.Get(ctx, subjectID, actor)
	if err != nil {
		return nil, "", err
	}
	records, err := s.workflow.History(ctx, subjectID, actor)
	if err != nil {
		return nil, "", err
	}

	data := historyDataset(records)
	title := fmt.Sprintf("%s - %s", subject.Type, subject.Title)

	switch format {
	case ExportCSV:
		payload, err := s.csv.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	case ExportPDF:
		payload, err := s.pdf.Render(data, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func historyDataset(records []models.TransitionRecord) export.Dataset {
	headers := []string{"Date", "Action", "From", "To", "Role", "Comment"}
	rows := make([]map[string]string, 0, len(records))
	for _, r := range records {
		comment := ""
		if r.Comment != nil {
			comment = *r.Comment
		}
		rows = append(rows, map[string]string{
			"Date":    r.OccurredAt.Format("2006-01-02 15:04"),
			"Action":  string(r.Action),
			"From":    string(r.FromStatus),
			"To":      string(r.ToStatus),
			"Role":    string(r.ActingRole),
			"Comment": comment,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
