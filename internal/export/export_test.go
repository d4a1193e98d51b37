package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wellfed/api/internal/form"
	"wellfed/api/internal/schema"
	"wellfed/api/internal/store"
)

func strPtr(s string) *string { return &s }

func sampleReport(t *testing.T) Report {
	t.Helper()
	wc := form.WorkingCopy{
		"familyName":             form.Text("Kahale"),
		"siteAddressCity":        form.Text("Hilo"),
		"soilPH":                 form.Number(6.5),
		"plantingZoneDimensions": form.Dims(strPtr("20"), strPtr("10")),
		"groundcover":            form.Set("Weeds", "Other"),
		"groundcoverOther":       form.Text("Lava rock"),
		"contactPhone":           form.Text("  "),
	}
	path := store.Path{Namespace: "ns", SessionID: "anon_1", RecordID: "rec_1"}
	at := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	return BuildReport(schema.Default(), wc, "## Plan\n\nPlant **kalo** first.", path, at)
}

func TestBuildReport(t *testing.T) {
	r := sampleReport(t)
	if r.Title != "Garden Site Analysis: Kahale ʻOhana" {
		t.Fatalf("title = %q", r.Title)
	}

	answers := map[string]string{}
	for _, section := range r.Sections {
		if len(section.Answers) == 0 {
			t.Errorf("section %q rendered without answers", section.Title)
		}
		for _, a := range section.Answers {
			answers[a.FieldID] = a.Value
		}
	}
	want := map[string]string{
		"familyName":             "Kahale",
		"siteAddressCity":        "Hilo",
		"soilPH":                 "6.5",
		"plantingZoneDimensions": "length 20 × width 10",
		"groundcover":            "Weeds, Other",
		"groundcoverOther":       "Lava rock",
	}
	for id, value := range want {
		if answers[id] != value {
			t.Errorf("answer %s = %q, want %q", id, answers[id], value)
		}
	}
	if _, ok := answers["contactPhone"]; ok {
		t.Error("blank answers must be left out")
	}
}

func TestBuildReportHidesOtherWithoutSelection(t *testing.T) {
	wc := form.WorkingCopy{
		"groundcover":      form.Set("Weeds"),
		"groundcoverOther": form.Text("stale"),
	}
	r := BuildReport(schema.Default(), wc, "", store.Path{}, time.Now())
	for _, section := range r.Sections {
		for _, a := range section.Answers {
			if a.FieldID == "groundcoverOther" {
				t.Fatal("companion shown although Other is not selected")
			}
		}
	}
	if r.Title != "Garden Site Analysis" {
		t.Errorf("title without family = %q", r.Title)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name     string
		value    form.Value
		expected string
	}{
		{"unanswered", form.Value{}, ""},
		{"text", form.Text(" Hilo "), "Hilo"},
		{"number", form.Number(7), "7"},
		{"length only", form.Dims(strPtr("20"), nil), "length 20"},
		{"empty set", form.Set(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.value); got != tt.expected {
				t.Errorf("FormatValue() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	text := PlainText(sampleReport(t))
	for _, want := range []string{"Garden Site Analysis: Kahale ʻOhana\n", "## Plan", "- Family Name: Kahale\n"} {
		if !strings.Contains(text, want) {
			t.Errorf("plain text missing %q:\n%s", want, text)
		}
	}
}

func TestMarkdownToHTMLSanitizes(t *testing.T) {
	html, err := MarkdownToHTML("Plant **kalo**.\n\n<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("MarkdownToHTML() error = %v", err)
	}
	if !strings.Contains(string(html), "<strong>kalo</strong>") {
		t.Errorf("markdown not rendered: %s", html)
	}
	if strings.Contains(string(html), "<script>") {
		t.Errorf("script survived sanitizing: %s", html)
	}
}

func TestRenderReportHTML(t *testing.T) {
	html, err := RenderReportHTML(sampleReport(t))
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}
	if !strings.Contains(html, "<h2>Plan</h2>") {
		t.Error("summary markdown should render as raw HTML")
	}
	if !strings.Contains(html, "<dt>Family Name</dt><dd>Kahale</dd>") {
		t.Error("HTML missing answers")
	}
	if !strings.Contains(html, "Mar 9, 2024") {
		t.Error("HTML missing date")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Garden Site Analysis: Kahale ʻOhana", "Garden-Site-Analysis-Kahale-Ohana"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "site-analysis"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"ʻ", "%CA%BB"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

type memArchive struct {
	objects map[string][]byte
	err     error
}

func (m *memArchive) Put(_ context.Context, key string, data []byte, _ string) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func (m *memArchive) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://archive.local/" + key, nil
}

func TestServiceExportPDFAndArchive(t *testing.T) {
	archive := &memArchive{}
	var renderedHTML string
	svc := NewService(func(_ context.Context, html string) ([]byte, error) {
		renderedHTML = html
		return []byte("%PDF-1.4"), nil
	}, archive, nil)

	result, err := svc.Export(context.Background(), sampleReport(t), FormatPDF, true)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "application/pdf" || result.Filename != "Garden-Site-Analysis-Kahale-Ohana.pdf" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.Contains(renderedHTML, "Kahale") {
		t.Error("renderer did not receive the report HTML")
	}
	wantKey := "reports/anon_1/rec_1/20240309T100000Z-Garden-Site-Analysis-Kahale-Ohana.pdf"
	if result.ArchiveKey != wantKey {
		t.Fatalf("archive key = %q, want %q", result.ArchiveKey, wantKey)
	}
	if string(archive.objects[wantKey]) != "%PDF-1.4" {
		t.Error("archived bytes mismatch")
	}
}

func TestServiceExportErrors(t *testing.T) {
	svc := NewService(func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}, nil, nil)

	if _, err := svc.Export(context.Background(), sampleReport(t), FormatPDF, false); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Errorf("expected ErrPDFDependencyMissing, got %v", err)
	}
	if _, err := svc.Export(context.Background(), sampleReport(t), FormatHTML, true); !errors.Is(err, ErrArchiveUnavailable) {
		t.Errorf("expected ErrArchiveUnavailable, got %v", err)
	}
	if _, err := svc.Export(context.Background(), sampleReport(t), Format("docx"), false); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatPDF {
		t.Errorf("empty format = %q, %v", f, err)
	}
	if f, err := ParseFormat("html"); err != nil || f != FormatHTML {
		t.Errorf("html format = %q, %v", f, err)
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
