package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

// CommitsService defines the interface for GitHub commit operations.
type CommitsService interface {
	GetCommit(ctx context.Context, sha string) (Commit, error)
	Compare(ctx context.Context, base, head string) (Comparison, error)
	ChangedFiles(ctx context.Context, base, head string) ([]string, error)
}

// commitsService is a concrete implementation of CommitsService.
type commitsService struct {
	client *Client // A reference to the base GitHub client
}

// maxCompareFiles is the API's cap on files returned by one comparison.
const maxCompareFiles = 300

// GetCommit fetches a single commit from the repository.
func (s *commitsService) GetCommit(ctx context.Context, sha string) (Commit, error) {
	path := s.client.repoPath("/commits/%s", url.PathEscape(sha))
	respData, err := s.client.DoRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Commit{}, fmt.Errorf("failed to get commit %s: %w", sha, err)
	}

	var commit Commit
	if err := json.Unmarshal(respData, &commit); err != nil {
		return Commit{}, fmt.Errorf("failed to unmarshal commit data: %w", err)
	}

	return commit, nil
}

// Compare fetches the comparison between two commits.
func (s *commitsService) Compare(ctx context.Context, base, head string) (Comparison, error) {
	path := s.client.repoPath("/compare/%s...%s", url.PathEscape(base), url.PathEscape(head))
	respData, err := s.client.DoRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Comparison{}, fmt.Errorf("failed to compare %s...%s: %w", base, head, err)
	}

	var cmp Comparison
	if err := json.Unmarshal(respData, &cmp); err != nil {
		return Comparison{}, fmt.Errorf("failed to unmarshal comparison: %w", err)
	}
	return cmp, nil
}

// ChangedFiles lists every path touched between base and head, including
// the old side of renames. A comparison at the API's file cap is reported
// as an error because the list may be incomplete.
func (s *commitsService) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	cmp, err := s.Compare(ctx, base, head)
	if err != nil {
		return nil, err
	}
	if len(cmp.Files) >= maxCompareFiles {
		return nil, fmt.Errorf("comparison %s...%s lists %d files; result may be truncated", base, head, len(cmp.Files))
	}

	seen := make(map[string]bool, len(cmp.Files))
	var out []string
	for _, f := range cmp.Files {
		for _, name := range []string{f.Filename, f.PreviousFilename} {
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
