// internal/docker/push.go
//
// Registry side of the flow: log in before any push, log out afterwards.
// The token goes through --password-stdin so it never shows in argv or logs.

package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"imgpub/internal/logfields"
)

// ErrMissingCredentials is returned by Login when no username/token is configured.
var ErrMissingCredentials = errors.New("missing registry username or token")

// Validate reports whether both halves of the credential pair are present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.Token) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Login runs docker login with the client's credentials. The docker
// credential store is shared by every variant of a run, so logins are
// counted: only the first runs the command and only the matching last
// Logout removes it.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions > 0 {
		c.sessions++
		return nil
	}
	if err := c.Creds.Validate(); err != nil {
		if !c.DryRun {
			return err
		}
		slog.Warn("Registry credentials missing; continuing in dry-run")
	}
	args := []string{"login", "--username", c.Creds.Username, "--password-stdin"}
	if c.Registry != "" {
		args = append(args, c.Registry)
	}
	if err := c.run(ctx, args, strings.NewReader(c.Creds.Token)); err != nil {
		return fmt.Errorf("docker login failed: %w", err)
	}
	c.sessions = 1
	return nil
}

// Logout runs docker logout, but never fails the variant if it errors.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions == 0 {
		return
	}
	if c.sessions--; c.sessions > 0 {
		return
	}
	args := []string{"logout"}
	if c.Registry != "" {
		args = append(args, c.Registry)
	}
	// logout must run even when the unit's context already expired
	if err := c.run(context.WithoutCancel(ctx), args, nil); err != nil {
		slog.Warn("docker logout failed", logfields.Error(err))
	}
}
