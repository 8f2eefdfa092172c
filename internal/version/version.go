package version

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date half of a run tag (YYYYMMDD).
const DateLayout = "20060102"

// ShortSHALen matches the abbreviation GitHub shows for commits.
const ShortSHALen = 7

// Tag is the run-wide version key: the UTC date of the run plus the
// abbreviated commit id. One Tag is computed per run and shared by every
// variant, so latest and dated tags pushed together always pin the same pair.
type Tag struct {
	Date     string // e.g. "20240115"
	ShortSHA string // e.g. "abc1234"
}

// String renders the tag as "<date>-<sha>".
func (t Tag) String() string {
	return fmt.Sprintf("%s-%s", t.Date, t.ShortSHA)
}

// IsZero reports whether the tag was never computed.
func (t Tag) IsZero() bool {
	return t.Date == "" && t.ShortSHA == ""
}

// Compute derives the Tag for a run started at now on commit sha.
func Compute(now time.Time, sha string) (Tag, error) {
	short := ShortSHA(sha)
	if short == "" {
		return Tag{}, fmt.Errorf("commit sha is empty")
	}
	if now.IsZero() {
		return Tag{}, fmt.Errorf("run time is zero")
	}
	return Tag{Date: now.UTC().Format(DateLayout), ShortSHA: short}, nil
}

// ShortSHA abbreviates a commit id. Ids shorter than ShortSHALen are kept whole.
func ShortSHA(sha string) string {
	sha = strings.ToLower(strings.TrimSpace(sha))
	if len(sha) > ShortSHALen {
		return sha[:ShortSHALen]
	}
	return sha
}

// Parse parses a tag in the format "YYYYMMDD-sha".
func Parse(s string) (Tag, error) {
	date, sha, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Tag{}, fmt.Errorf("invalid version tag format: expected YYYYMMDD-sha, got %s", s)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Tag{}, fmt.Errorf("invalid version tag date %q: %w", date, err)
	}
	if sha == "" || strings.ContainsAny(sha, "-/: ") {
		return Tag{}, fmt.Errorf("invalid version tag sha %q", sha)
	}
	return Tag{Date: date, ShortSHA: sha}, nil
}

// Time returns the midnight UTC the tag's date refers to.
func (t Tag) Time() (time.Time, error) {
	return time.Parse(DateLayout, t.Date)
}
