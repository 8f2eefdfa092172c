package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ConsoleSink prints an aligned plain-text block per record.
type ConsoleSink struct {
	W io.Writer

	mu sync.Mutex
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Write(_ context.Context, r Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s\n", statusIcon(r.Status), r.VariantID, r.Status)
	fmt.Fprintf(&b, "  Arches                : %s\n", strings.Join(r.Arches, ", "))
	fmt.Fprintf(&b, "  Commit                : %s\n", orNone(r.CommitURL, r.SHA))
	fmt.Fprintf(&b, "  Trigger               : %s\n", r.Trigger)
	fmt.Fprintf(&b, "  Branch                : %s\n", orNone(r.Branch, "(none)"))
	fmt.Fprintf(&b, "  Version Tag           : %s\n", r.VersionTag)
	fmt.Fprintf(&b, "  Change Decision       : %s\n", r.Decision)
	fmt.Fprintf(&b, "  Duration              : %s\n", r.Duration())
	if r.Error != "" {
		fmt.Fprintf(&b, "  %-22s: %s\n", "Error ("+r.ErrorKind+")", r.Error)
	}
	for _, img := range r.Images {
		fmt.Fprintf(&b, "  Pull                  : docker pull %s\n", img)
	}
	b.WriteString("\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.W, b.String())
	return err
}

func orNone(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
