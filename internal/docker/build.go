package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"imgpub/internal/executil"
	"imgpub/internal/logfields"
)

// Client drives the docker CLI (buildx, login, run) through a Runner.
type Client struct {
	Runner   executil.Runner
	WorkDir  string // repository root; dockerfile/context paths are relative to it
	Registry string // login host; empty means Docker Hub
	Builder  string // optional buildx builder name
	Creds    Credentials
	DryRun   bool
	Out      io.Writer // build plan echo; defaults to stdout

	mu       sync.Mutex
	sessions int // outstanding Logins
}

func (c *Client) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

func (c *Client) run(ctx context.Context, args []string, stdin io.Reader) error {
	return c.Runner.Run(ctx, executil.Command{
		Name:  "docker",
		Args:  args,
		Shown: redactBuildArgs(args),
		Dir:   c.WorkDir,
		Stdin: stdin,
	})
}

// BuildArgs renders opts as `docker buildx build` arguments.
func (c *Client) BuildArgs(opts *BuildOptions) ([]string, error) {
	if opts == nil {
		return nil, errors.New("build args: opts is nil")
	}
	refs := dedupRefs(opts.FullRefs)
	if len(refs) == 0 {
		return nil, errors.New("build args: FullRefs must have at least one repo:tag")
	}
	if opts.Load && opts.Push {
		return nil, errors.New("build args: load and push are exclusive")
	}
	if opts.Load && len(opts.Platforms) > 1 {
		return nil, errors.New("build args: a loaded image must target a single platform")
	}
	for _, r := range refs {
		// Docker tags must be lowercase & no spaces
		if strings.ToLower(r) != r || strings.ContainsAny(r, " \t\n") {
			return nil, fmt.Errorf("build args: invalid ref %q (must be lowercase, no spaces)", r)
		}
	}

	df, ctxPath := buildPaths(opts)

	args := []string{"buildx", "build", "--progress=plain"}
	if c.Builder != "" {
		args = append(args, "--builder", c.Builder)
	}
	if len(opts.Platforms) > 0 {
		args = append(args, "--platform", strings.Join(opts.Platforms, ","))
	}
	switch {
	case opts.Push:
		args = append(args, "--push")
	case opts.Load:
		args = append(args, "--load")
	}
	for _, r := range refs {
		args = append(args, "-t", r)
	}
	args = append(args, "-f", df)
	if opts.Pull {
		args = append(args, "--pull")
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Target != "" {
		args = append(args, "--target", opts.Target)
	}
	for _, kv := range opts.Labels {
		if kv[0] != "" && kv[1] != "" {
			args = append(args, "--label", kv[0]+"="+kv[1])
		}
	}
	for _, kv := range opts.BuildArgs {
		if kv[0] != "" {
			args = append(args, "--build-arg", kv[0]+"="+kv[1])
		}
	}
	for _, s := range opts.CacheFrom {
		args = append(args, "--cache-from", s)
	}
	for _, s := range opts.CacheTo {
		args = append(args, "--cache-to", s)
	}
	args = append(args, ctxPath)
	return args, nil
}

// Build runs one buildx build. Engine output streams through verbatim.
func (c *Client) Build(ctx context.Context, opts *BuildOptions) error {
	args, err := c.BuildArgs(opts)
	if err != nil {
		return err
	}

	df, ctxPath := buildPaths(opts)
	dfPath := filepath.Join(c.WorkDir, filepath.FromSlash(df))
	ctxFull := filepath.Join(c.WorkDir, filepath.FromSlash(ctxPath))

	// Only validate filesystem when not in dry-run
	if !c.DryRun {
		if st, err := os.Stat(dfPath); err != nil || st.IsDir() {
			return fmt.Errorf("build args: Dockerfile %q not found or not a file", dfPath)
		}
		if st, err := os.Stat(ctxFull); err != nil || !st.IsDir() {
			return fmt.Errorf("build args: context %q not found or not a directory", ctxFull)
		}
	}

	w := c.out()
	fmt.Fprintln(w, "— Build Plan —")
	for _, r := range dedupRefs(opts.FullRefs) {
		fmt.Fprintf(w, "  tag: %s\n", r)
	}
	fmt.Fprintf(w, "Platforms : %s\n", strings.Join(opts.Platforms, ","))
	fmt.Fprintf(w, "Dockerfile: %s\n", absOr(dfPath, dfPath))
	fmt.Fprintf(w, "Context   : %s\n", absOr(ctxFull, ctxFull))
	fmt.Fprintln(w, "Executing :", "docker", executil.ShellQuoteArgs(redactBuildArgs(args)))

	slog.Debug("buildx build", logfields.Ref(opts.FullRefs[0]), "push", opts.Push, "load", opts.Load)
	return c.run(ctx, args, nil)
}

// buildPaths applies the Dockerfile and context defaults.
func buildPaths(opts *BuildOptions) (df, ctxPath string) {
	df = strings.TrimSpace(opts.Dockerfile)
	if df == "" {
		df = "Dockerfile"
	}
	ctxPath = strings.TrimSpace(opts.ContextPath)
	if ctxPath == "" {
		ctxPath = "."
	}
	return df, ctxPath
}
