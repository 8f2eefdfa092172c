package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"imgpub/internal/changes"
	"imgpub/internal/docker"
	"imgpub/internal/runtime"
	"imgpub/internal/variant"
)

// PlanCmd implements the 'plan' command. It never calls docker.
type PlanCmd struct {
	EventFlags
}

func (p *PlanCmd) Run(root *CLI) error {
	ctx, stop := signalContext()
	defer stop()

	cat, err := root.LoadCatalog(p.Variants)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	store, err := root.OpenHistory()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	run, err := runtime.LoadContext(p.Inputs(true))
	if err != nil {
		return err
	}
	set, decisions, err := detect(ctx, run, p.EventFlags, cat.Variants, store, forgeClient(run.Repository))
	if err != nil {
		return err
	}
	run.PrintSummary(os.Stdout, set)
	return printPlan(os.Stdout, run, cat, decisions)
}

// printPlan lists, per variant, the decision and the refs a publish would push.
func printPlan(w io.Writer, run runtime.Context, cat *variant.Catalog, decisions []changes.Decision) error {
	meta := docker.LabelMeta{SourceURL: run.SourceURL(), Revision: run.SHA, Created: run.StartedAt}
	fmt.Fprintln(w, "Plan")
	for i, v := range cat.Variants {
		d := decisions[i]
		action := "skip"
		if d.Changed {
			action = "publish"
		}
		fmt.Fprintf(w, "  %-22s: %s [%s]\n", v.ID(), action, d)
		if !d.Changed {
			continue
		}
		p, err := docker.PlanVariant(cat.Registry.Image(), v, run.Version, meta)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "    Platforms           : %s\n", strings.Join(v.Platforms(), ","))
		for _, a := range v.Arches {
			fmt.Fprintf(w, "    Local (%s)%s: %s\n", a, strings.Repeat(" ", max(0, 12-len(a))), p.LocalRef(a))
		}
		for _, ref := range p.PublishRefs() {
			fmt.Fprintf(w, "    Publish             : %s\n", ref)
		}
	}
	return nil
}
