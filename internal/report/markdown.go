package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/template"

	"imgpub/internal/assets"
)

var summaryTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"statusIcon": statusIcon,
	"join":       strings.Join,
	"orNone": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "(none)"
		}
		return s
	},
}).Parse(assets.SummaryTemplate()))

func statusIcon(status string) string {
	switch status {
	case StatusPublished:
		return "✅"
	case StatusSkipped:
		return "⏭️"
	default:
		return "❌"
	}
}

// RenderMarkdown renders one record as a step-summary section.
func RenderMarkdown(w io.Writer, r Record) error {
	return summaryTmpl.Execute(w, r)
}

// SummarySink appends Markdown sections to a file, normally
// $GITHUB_STEP_SUMMARY.
type SummarySink struct {
	Path string

	mu sync.Mutex
}

func (s *SummarySink) Name() string { return "step-summary" }

func (s *SummarySink) Write(_ context.Context, r Record) error {
	var b strings.Builder
	if err := RenderMarkdown(&b, r); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	b.WriteString("\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append step summary: %w", err)
	}
	return nil
}
