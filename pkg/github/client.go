package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	repository string // owner/repo

	// Services
	Commits  CommitsService
	Statuses StatusesService
}

// APIError represents an error response from the GitHub API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

// Error returns a string representation of the APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error (%d): %s -- %s", e.StatusCode, e.Message, string(e.Body))
}

// Options configures a Client explicitly.
type Options struct {
	Token      string
	BaseURL    string // API root; defaults to DefaultBaseURL
	Repository string // owner/repo
	Timeout    time.Duration
}

// NewClient creates a client for one repository.
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("GitHub token must be set")
	}
	if strings.Count(opts.Repository, "/") != 1 {
		return nil, fmt.Errorf("repository must be owner/repo, got %q", opts.Repository)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, errors.New("invalid GitHub API URL: " + err.Error())
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		repository: opts.Repository,
	}

	// Initialize services
	c.Commits = &commitsService{client: c}
	c.Statuses = &statusesService{client: c}

	return c, nil
}

// NewClientFromEnv creates a client from the Actions environment, bound to
// repository (GITHUB_REPOSITORY when empty).
// Required environment variables:
//   - IMGPUB_GITHUB_TOKEN (preferred) or GITHUB_TOKEN
//
// GITHUB_API_URL overrides the API root (GitHub Enterprise), and an optional
// GITHUB_CLIENT_TIMEOUT_SECONDS sets the HTTP client timeout.
func NewClientFromEnv(repository string) (*Client, error) {
	token := os.Getenv("IMGPUB_GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, errors.New("IMGPUB_GITHUB_TOKEN or GITHUB_TOKEN must be set")
	}

	var timeout time.Duration
	if timeoutStr := os.Getenv("GITHUB_CLIENT_TIMEOUT_SECONDS"); timeoutStr != "" {
		if seconds, err := strconv.Atoi(timeoutStr); err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	return NewClient(Options{
		Token:      token,
		BaseURL:    os.Getenv("GITHUB_API_URL"),
		Repository: firstNonEmpty(repository, os.Getenv("GITHUB_REPOSITORY")),
		Timeout:    timeout,
	})
}

// Repository returns the owner/repo the client is bound to.
func (c *Client) Repository() string { return c.repository }

// DoRequest sends an HTTP request to the GitHub API and returns the response body.
// The 'path' is relative to the API root (e.g., "/repos/o/r/commits/abc").
func (c *Client) DoRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBytes)
	}

	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request [%s %s]: %w", method, fullURL, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed [%s %s]: %w", method, fullURL, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respData,
		}
	}

	return respData, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// repoPath prefixes p with the client's /repos/{owner}/{repo}.
func (c *Client) repoPath(format string, args ...any) string {
	owner, name, _ := strings.Cut(c.repository, "/")
	return fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name)) + fmt.Sprintf(format, args...)
}
