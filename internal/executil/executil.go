// internal/executil/executil.go
package executil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Command describes one process invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   map[string]string // appended to os.Environ()
	Stdin io.Reader         // e.g. a registry token for --password-stdin

	// Shown replaces Args wherever the command is printed or quoted in an
	// error, so secret values never reach logs. nil shows Args.
	Shown []string
}

// String returns a printable, shell-quoted rendering of the command.
func (c Command) String() string {
	args := c.Args
	if c.Shown != nil {
		args = c.Shown
	}
	if len(args) == 0 {
		return c.Name
	}
	return c.Name + " " + ShellQuoteArgs(args)
}

// Runner executes commands. The docker layer depends on this so tests
// can record invocations instead of spawning processes.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with inherited or supplied stdout/stderr.
// When DryRun is set, commands are printed and never executed.
type ExecRunner struct {
	DryRun bool
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunner returns an ExecRunner writing to the process' stdout/stderr.
func NewRunner(dryRun bool) *ExecRunner {
	return &ExecRunner{DryRun: dryRun, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run executes cmd, honoring ctx cancellation and deadlines.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	return runCore(ctx, r, c)
}

func runCore(ctx context.Context, r *ExecRunner, c Command) error {
	fullCmd := c.String()
	prefix := ""
	if c.Dir != "" {
		prefix = " in " + c.Dir
	}
	stdout := r.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	if r.DryRun {
		fmt.Fprintf(stdout, "[DRY RUN%s] %s\n", prefix, fullCmd)
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	// a dead context should not spawn anything
	if err := ctx.Err(); err != nil {
		return wrapCtxErr(err, fullCmd)
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = c.Stdin
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	fmt.Fprintf(stdout, "Running%s: %s\n", prefix, fullCmd)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return wrapCtxErr(ctxErr, fullCmd)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				return &ExitError{Command: fullCmd, Code: status.ExitStatus(), Err: err}
			}
		}
		return fmt.Errorf("failed to run command: %s: %w", fullCmd, err)
	}
	return nil
}

func wrapCtxErr(err error, fullCmd string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("command timed out: %s: %w", fullCmd, err)
	}
	return fmt.Errorf("command canceled: %s: %w", fullCmd, err)
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed (exit=%d): %s: %v", e.Code, e.Command, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ShellQuoteArgs returns a printable, shell-safe representation of args.
func ShellQuoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'`$\\*?[]{}()<>|&;") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
