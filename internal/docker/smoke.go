package docker

import (
	"context"
	"fmt"
	"strings"

	"imgpub/internal/executil"
	"imgpub/internal/variant"
)

// SmokeScript renders the checks as one POSIX shell script: the package
// query first, then each command, stopping at the first failure.
func SmokeScript(s variant.Smoke) string {
	var steps []string
	if len(s.Packages) > 0 {
		quoted := executil.ShellQuoteArgs(s.Packages)
		switch s.PackageManager {
		case "dpkg":
			steps = append(steps, "dpkg -s "+quoted+" >/dev/null")
		default:
			steps = append(steps, "rpm -q "+quoted)
		}
	}
	for _, c := range s.Commands {
		if c = strings.TrimSpace(c); c != "" {
			steps = append(steps, c)
		}
	}
	return strings.Join(append([]string{"set -e"}, steps...), "\n")
}

// Smoke runs the variant's checks inside the locally loaded image ref.
func (c *Client) Smoke(ctx context.Context, ref, platform string, s variant.Smoke) error {
	if s.Empty() {
		return nil
	}
	args := []string{"run", "--rm", "--pull=never"}
	if platform != "" {
		args = append(args, "--platform", platform)
	}
	args = append(args, "--entrypoint", "sh", ref, "-c", SmokeScript(s))
	if err := c.run(ctx, args, nil); err != nil {
		return fmt.Errorf("smoke test of %s failed: %w", ref, err)
	}
	return nil
}
