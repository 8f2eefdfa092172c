package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// StatusesService defines the interface for commit status operations.
type StatusesService interface {
	Create(ctx context.Context, sha string, status Status) (Status, error)
}

type statusesService struct {
	client *Client
}

// maxDescription is the API's limit on a status description.
const maxDescription = 140

// Create sets a commit status. Descriptions longer than the API limit are cut.
func (s *statusesService) Create(ctx context.Context, sha string, status Status) (Status, error) {
	if status.Context == "" {
		return Status{}, fmt.Errorf("status context must be set")
	}
	switch status.State {
	case StatePending, StateSuccess, StateFailure, StateError:
	default:
		return Status{}, fmt.Errorf("invalid status state %q", status.State)
	}
	if r := []rune(status.Description); len(r) > maxDescription {
		status.Description = string(r[:maxDescription-1]) + "…"
	}

	path := s.client.repoPath("/statuses/%s", url.PathEscape(sha))
	respData, err := s.client.DoRequest(ctx, http.MethodPost, path, status)
	if err != nil {
		return Status{}, fmt.Errorf("failed to set status %s on %s: %w", status.Context, sha, err)
	}

	var created Status
	if err := json.Unmarshal(respData, &created); err != nil {
		return Status{}, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return created, nil
}
