package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reservapp/reserva-api/internal/models"
	"github.com/reservapp/reserva-api/pkg/export"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

// ExportFormat enumerates supported export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// exportPageSize stays within the listing layer's page size cap.
const exportPageSize = 100

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	MaxRows int
}

// ExportResult carries a rendered document and its metadata.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders business booking reports. Listing goes through
// BookingService, so the ownership checks there apply here too.
type ExportService struct {
	bookings *BookingService
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(bookings *BookingService, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{bookings: bookings, csv: csv, pdf: pdf, logger: logger, cfg: cfg}
}

// ExportBusinessBookings renders all bookings of a business into the
// requested format, restricted to the business owner or admin.
func (s *ExportService) ExportBusinessBookings(ctx context.Context, principal models.Principal, businessID string, format ExportFormat, filter models.BookingFilter) (*ExportResult, error) {
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	filter.PageSize = exportPageSize
	var bookings []models.BookingDetail
	var total int
	for page := 1; ; page++ {
		filter.Page = page
		batch, t, err := s.bookings.ListForBusiness(ctx, principal, businessID, filter)
		if err != nil {
			return nil, err
		}
		total = t
		bookings = append(bookings, batch...)
		if len(bookings) >= s.cfg.MaxRows {
			bookings = bookings[:s.cfg.MaxRows]
			break
		}
		if len(batch) < exportPageSize || len(bookings) >= total {
			break
		}
	}
	if total > len(bookings) {
		s.logger.Warn("export truncated",
			zap.String("business_id", businessID),
			zap.Int("total", total),
			zap.Int("exported", len(bookings)),
			zap.Int("max_rows", s.cfg.MaxRows),
		)
	}

	dataset, title := buildBookingDataset(bookings)

	var payload []byte
	var contentType string
	var err error
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &ExportResult{
		Filename:    buildExportFilename(businessID, format),
		ContentType: contentType,
		Payload:     payload,
	}, nil
}

func buildBookingDataset(bookings []models.BookingDetail) (export.Dataset, string) {
	headers := []string{"Booking ID", "Service", "Client ID", "Start", "End", "Status", "Notes"}
	rows := make([]map[string]string, 0, len(bookings))
	title := "Bookings Report"
	for i := range bookings {
		b := &bookings[i]
		if i == 0 && b.BusinessName != "" {
			title = fmt.Sprintf("Bookings Report %s", b.BusinessName)
		}
		rows = append(rows, map[string]string{
			"Booking ID": b.ID,
			"Service":    b.ServiceName,
			"Client ID":  b.UserID,
			"Start":      b.StartTime.UTC().Format(time.RFC3339),
			"End":        b.EndTime.UTC().Format(time.RFC3339),
			"Status":     string(b.Status),
			"Notes":      sanitizeExportValue(b.Notes),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}, title
}

func buildExportFilename(businessID string, format ExportFormat) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("bookings_%s_%s.%s", businessID, timestamp, format)
}

func sanitizeExportValue(raw string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ")
	value := replacer.Replace(raw)
	runes := []rune(value)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return value
}
