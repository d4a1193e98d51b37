package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()

	reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).Parse(reportLayout))
)

// TemplateData holds data for report template rendering
type TemplateData struct {
	Report
	SummaryHTML template.HTML
}

// MarkdownToHTML converts generated summary markdown to sanitized HTML.
func MarkdownToHTML(source string) (template.HTML, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes())), nil
}

// RenderReportHTML renders the report as a standalone HTML page.
func RenderReportHTML(r Report) (string, error) {
	summary, err := MarkdownToHTML(r.Summary)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, TemplateData{Report: r, SummaryHTML: summary}); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

const reportLayout = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #2d3a2e; }
    h1 { border-bottom: 2px solid #4a7c59; padding-bottom: 0.5rem; }
    h2 { color: #4a7c59; margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .summary { background: #f4f8f1; padding: 1rem 1.5rem; border-left: 3px solid #4a7c59; }
    dt { font-weight: bold; margin-top: 0.75rem; }
    dd { margin-left: 0; white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Prepared {{formatDate .GeneratedAt "Jan 2, 2006"}}{{if .SessionID}} | Session {{.SessionID}}{{end}}</div>
  {{if .SummaryHTML}}
  <h2>Recommended Plan</h2>
  <div class="summary">{{.SummaryHTML}}</div>
  {{end}}
  {{range .Sections}}
  <h2>{{.Title}}</h2>
  <dl>
    {{range .Answers}}<dt>{{.Label}}</dt><dd>{{.Value}}</dd>
    {{end}}
  </dl>
  {{end}}
</body>
</html>`
