package github

// Commit represents a GitHub commit object (trimmed to what we read).
type Commit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url,omitempty"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Date  string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

// CommitFile is one entry of a commit or comparison's file list.
type CommitFile struct {
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename,omitempty"` // set on renames
	Status           string `json:"status"`                      // added, modified, removed, renamed, ...
}

// Comparison is the body of GET /repos/{o}/{r}/compare/{base}...{head}.
type Comparison struct {
	Status       string       `json:"status"` // ahead, behind, identical, diverged
	AheadBy      int          `json:"ahead_by"`
	TotalCommits int          `json:"total_commits"`
	Files        []CommitFile `json:"files"`
}

// Status states accepted by the commit status API.
const (
	StatePending = "pending"
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
)

// Status is a commit status request/response body.
type Status struct {
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}
