package export

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"
)

// Service renders reports and archives them when storage is configured.
type Service struct {
	renderPDF PDFRenderer
	archive   Archiver
	logger    *zap.Logger
}

// NewService creates an export service. renderPDF defaults to ChromePDF;
// archive may be nil.
func NewService(renderPDF PDFRenderer, archive Archiver, logger *zap.Logger) *Service {
	if renderPDF == nil {
		renderPDF = ChromePDF
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{renderPDF: renderPDF, archive: archive, logger: logger}
}

// Export renders report in the requested format. With archive set the
// result is also stored and ArchiveKey names the object.
func (s *Service) Export(ctx context.Context, report Report, format Format, archive bool) (*Result, error) {
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, err
	}

	var result *Result
	switch format {
	case FormatHTML:
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(report.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{
			Data:     data,
			Filename: sanitizeFilename(report.Title) + ".pdf",
			MimeType: "application/pdf",
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if !archive {
		return result, nil
	}
	if s.archive == nil {
		return nil, ErrArchiveUnavailable
	}
	key := archiveKey(report, result.Filename)
	if err := s.archive.Put(ctx, key, result.Data, result.MimeType); err != nil {
		return nil, fmt.Errorf("archive report: %w", err)
	}
	result.ArchiveKey = key
	s.logger.Info("report archived", zap.String("key", key), zap.Int("bytes", len(result.Data)))
	return result, nil
}

// Archive returns the configured archiver, if any.
func (s *Service) Archive() (Archiver, bool) {
	return s.archive, s.archive != nil
}

func archiveKey(report Report, filename string) string {
	return path.Join(
		"reports",
		report.SessionID,
		report.RecordID,
		report.GeneratedAt.UTC().Format("20060102T150405Z")+"-"+filename,
	)
}
