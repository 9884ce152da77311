package summary

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// FormatText renders a plain-text email body.
func FormatText(s *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Meeting Summary: %s\n", s.Title)
	if s.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", s.Date)
	}
	if s.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %d minutes\n", (s.Duration+30)/60)
	}
	b.WriteString("\n")

	if s.Overview != "" {
		b.WriteString("OVERVIEW\n")
		b.WriteString(s.Overview)
		b.WriteString("\n\n")
	}

	writeList(&b, "KEY POINTS", s.KeyPoints)
	writeList(&b, "DECISIONS", s.Decisions)

	if len(s.ActionItems) > 0 {
		b.WriteString("ACTION ITEMS\n")
		for _, a := range s.ActionItems {
			b.WriteString("- " + a.Task)
			if a.Owner != "" {
				b.WriteString(" (" + a.Owner + ")")
			}
			if a.DueDate != "" {
				b.WriteString(" due " + a.DueDate)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	writeList(&b, "TOPICS", s.Topics)
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading + "\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	b.WriteString("\n")
}

var htmlTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"minutes": func(sec int) int { return (sec + 30) / 60 },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Meeting Summary: {{.Title}}</title></head>
<body style="font-family: sans-serif; max-width: 680px; margin: 0 auto;">
<h1>{{.Title}}</h1>
<p>{{if .Date}}{{.Date}}{{end}}{{if .Duration}} &middot; {{minutes .Duration}} minutes{{end}}</p>
{{if .Overview}}<h2>Overview</h2>
<p>{{.Overview}}</p>
{{end}}{{if .KeyPoints}}<h2>Key Points</h2>
<ul>{{range .KeyPoints}}<li>{{.}}</li>{{end}}</ul>
{{end}}{{if .Decisions}}<h2>Decisions</h2>
<ul>{{range .Decisions}}<li>{{.}}</li>{{end}}</ul>
{{end}}{{if .ActionItems}}<h2>Action Items</h2>
<ul>{{range .ActionItems}}<li>{{.Task}}{{if .Owner}} <strong>({{.Owner}})</strong>{{end}}{{if .DueDate}} due {{.DueDate}}{{end}}</li>{{end}}</ul>
{{end}}{{if .Topics}}<h2>Topics</h2>
<p>{{range $i, $t := .Topics}}{{if $i}}, {{end}}{{$t}}{{end}}</p>
{{end}}</body>
</html>
`))

// FormatHTML renders an HTML email body. Model output is escaped.
func FormatHTML(s *Summary) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("render summary html: %w", err)
	}
	return buf.String(), nil
}
