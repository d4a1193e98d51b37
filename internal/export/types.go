// Package export renders a site analysis into a shareable report as HTML or
// PDF and optionally archives it to object storage.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. Empty means PDF.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Report is everything a rendered site analysis shows.
type Report struct {
	Title       string
	SessionID   string
	RecordID    string
	Summary     string // markdown from the summary requester
	Sections    []ReportSection
	GeneratedAt time.Time
}

// ReportSection groups the answered fields of one schema section.
type ReportSection struct {
	Title   string
	Answers []Answer
}

// Answer is one answered field rendered for display.
type Answer struct {
	FieldID string
	Label   string
	Value   string
}

// Result contains the export output
type Result struct {
	Data       []byte
	Filename   string
	MimeType   string
	ArchiveKey string
}

var (
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrArchiveUnavailable indicates no object storage is configured.
	ErrArchiveUnavailable = errors.New("export archive unavailable")
)
