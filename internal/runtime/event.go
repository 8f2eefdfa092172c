package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// payloadCommitLimit is how many commits a push payload lists before truncating.
const payloadCommitLimit = 20

// PushEvent is the subset of a forge push payload the publisher reads.
type PushEvent struct {
	Ref        string          `json:"ref"`
	Before     string          `json:"before"`
	After      string          `json:"after"`
	Deleted    bool            `json:"deleted"`
	Commits    []PayloadCommit `json:"commits"`
	HeadCommit *PayloadCommit  `json:"head_commit"`
	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

// PayloadCommit lists the files one pushed commit touched.
type PayloadCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	URL      string   `json:"url"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// ParsePushEvent decodes a push payload.
func ParsePushEvent(data []byte) (*PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse push event: %w", err)
	}
	return &ev, nil
}

// ReadPushEvent loads a push payload from disk (GITHUB_EVENT_PATH).
func ReadPushEvent(path string) (*PushEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event payload: %w", err)
	}
	return ParsePushEvent(data)
}

// Branch strips refs/heads/ from the pushed ref.
func (e *PushEvent) Branch() string {
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

// Files returns the union of added, modified and removed paths across commits.
func (e *PushEvent) Files() []string {
	var out []string
	seen := map[string]bool{}
	add := func(list []string) {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	commits := e.Commits
	if len(commits) == 0 && e.HeadCommit != nil {
		commits = []PayloadCommit{*e.HeadCommit}
	}
	for _, c := range commits {
		add(c.Added)
		add(c.Modified)
		add(c.Removed)
	}
	return out
}

// Truncated reports whether the payload may omit commits.
func (e *PushEvent) Truncated() bool {
	return len(e.Commits) >= payloadCommitLimit
}

// HasBase reports whether Before names a real commit (it is all zeros for new branches).
func (e *PushEvent) HasBase() bool {
	return isRealSHA(e.Before)
}

func isRealSHA(sha string) bool {
	sha = strings.TrimSpace(sha)
	return sha != "" && strings.Trim(sha, "0") != ""
}
