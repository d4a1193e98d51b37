package export

import (
	"strconv"
	"strings"
	"time"

	"wellfed/api/internal/form"
	"wellfed/api/internal/schema"
	"wellfed/api/internal/store"
)

// BuildReport collects the answered fields of wc in schema order. Unanswered
// and blank fields are left out; an "Other" companion follows its field when
// the selection reveals it.
func BuildReport(s *schema.Schema, wc form.WorkingCopy, summary string, path store.Path, now time.Time) Report {
	report := Report{
		Title:       reportTitle(wc),
		SessionID:   path.SessionID,
		RecordID:    path.RecordID,
		Summary:     summary,
		GeneratedAt: now,
	}
	for _, section := range s.Sections {
		rs := ReportSection{Title: section.Title}
		for _, field := range section.Fields {
			value := wc[field.ID]
			if text := FormatValue(value); text != "" {
				rs.Answers = append(rs.Answers, Answer{FieldID: field.ID, Label: field.Label, Value: text})
			}
			if field.AllowsOther && form.OtherSelected(value) {
				if text := FormatValue(wc[field.OtherFieldID()]); text != "" {
					rs.Answers = append(rs.Answers, Answer{
						FieldID: field.OtherFieldID(),
						Label:   field.Label + " (Other)",
						Value:   text,
					})
				}
			}
		}
		if len(rs.Answers) > 0 {
			report.Sections = append(report.Sections, rs)
		}
	}
	return report
}

// FormatValue renders a field value as a single display line.
func FormatValue(v form.Value) string {
	switch v.Kind {
	case form.KindText:
		return strings.TrimSpace(v.Text)
	case form.KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case form.KindDimensions:
		var parts []string
		if v.Dims.Length != nil && *v.Dims.Length != "" {
			parts = append(parts, "length "+*v.Dims.Length)
		}
		if v.Dims.Width != nil && *v.Dims.Width != "" {
			parts = append(parts, "width "+*v.Dims.Width)
		}
		return strings.Join(parts, " × ")
	case form.KindSet:
		return strings.Join(v.Set, ", ")
	default:
		return ""
	}
}

// PlainText renders the report for email bodies.
func PlainText(r Report) string {
	var b strings.Builder
	b.WriteString(r.Title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len([]rune(r.Title))))
	b.WriteString("\n\n")
	if strings.TrimSpace(r.Summary) != "" {
		b.WriteString(strings.TrimSpace(r.Summary))
		b.WriteString("\n\n")
	}
	for _, section := range r.Sections {
		b.WriteString(section.Title)
		b.WriteString("\n")
		for _, answer := range section.Answers {
			b.WriteString("- ")
			b.WriteString(answer.Label)
			b.WriteString(": ")
			b.WriteString(answer.Value)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func reportTitle(wc form.WorkingCopy) string {
	family := strings.TrimSpace(FormatValue(wc["familyName"]))
	if family == "" {
		return "Garden Site Analysis"
	}
	return "Garden Site Analysis: " + family + " ʻOhana"
}
