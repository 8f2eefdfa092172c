package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"imgpub/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Variant string `name:"variant" help:"Only this variant id (<purpose>-<name>)"`
	Status  string `name:"status" help:"Only this status (published|skipped|failed)"`
	Limit   int    `name:"limit" short:"n" help:"Maximum entries" default:"20"`
}

func (h *HistoryCmd) Run(root *CLI) error {
	store, err := root.OpenHistory()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if store == nil {
		return errors.New("--history-db (or IMGPUB_HISTORY_DB) is required")
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), history.Filter{VariantID: h.Variant, Status: h.Status, Limit: h.Limit})
	if err != nil {
		return err
	}
	printHistory(os.Stdout, entries)
	return nil
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "(no outcomes recorded)")
		return
	}
	fmt.Fprintf(w, "%-20s  %-22s  %-9s  %-16s  %-8s  %s\n", "STARTED (UTC)", "VARIANT", "STATUS", "VERSION", "DURATION", "DETAIL")
	for _, e := range entries {
		detail := ""
		switch {
		case e.Error != "":
			detail = e.ErrorKind + ": " + e.Error
		case len(e.Images) > 0:
			detail = e.Images[0]
		}
		fmt.Fprintf(w, "%-20s  %-22s  %-9s  %-16s  %-8s  %s\n",
			e.StartedAt.Format(time.RFC3339), e.VariantID, e.Status, e.VersionTag, e.Duration.Round(time.Second), detail)
	}
}
