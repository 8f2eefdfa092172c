package main

import (
	"fmt"
	"os"
	"time"

	"imgpub/internal/changes"
	"imgpub/internal/version"
)

// TagCmd implements the 'tag' command.
type TagCmd struct {
	SHA     string `name:"sha" help:"Commit id; defaults to HEAD of --repo-dir" env:"GITHUB_SHA"`
	RepoDir string `name:"repo-dir" help:"Local clone used when --sha is not set" env:"GITHUB_WORKSPACE" default:"." type:"path"`
	Date    string `name:"date" help:"Override the UTC date (YYYYMMDD)"`
}

func (t *TagCmd) Run(_ *CLI) error {
	sha := t.SHA
	if sha == "" {
		head, err := changes.NewGitDiffer(t.RepoDir).Head()
		if err != nil {
			return fmt.Errorf("commit sha is unknown: %w", err)
		}
		sha = head
	}
	now := time.Now()
	if t.Date != "" {
		d, err := time.Parse(version.DateLayout, t.Date)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", t.Date, err)
		}
		now = d
	}
	tag, err := version.Compute(now, sha)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, tag)
	return nil
}
