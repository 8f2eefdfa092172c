package changes

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitDiffer computes changed files from a local clone.
type GitDiffer struct {
	Dir string
}

// NewGitDiffer returns a GitDiffer rooted at dir (or any subdirectory of the clone).
func NewGitDiffer(dir string) *GitDiffer {
	return &GitDiffer{Dir: dir}
}

func (g *GitDiffer) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(g.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", g.Dir, err)
	}
	return repo, nil
}

// Head returns the full hash HEAD points at.
func (g *GitDiffer) Head() (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// ChangedFiles lists every path added, modified, deleted or renamed between
// the two revisions (hashes, short hashes or ref names), sorted.
func (g *GitDiffer) ChangedFiles(ctx context.Context, from, to string) ([]string, error) {
	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	fromTree, err := treeAt(repo, from)
	if err != nil {
		return nil, err
	}
	toTree, err := treeAt(repo, to)
	if err != nil {
		return nil, err
	}

	diff, err := fromTree.DiffContext(ctx, toTree)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", from, to, err)
	}

	seen := make(map[string]struct{}, len(diff)*2)
	for _, ch := range diff {
		// renames report both sides; either one may sit under a variant path
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name != "" {
				seen[name] = struct{}{}
			}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// Sync checks out sha (detached, discarding local changes), fetching from
// origin first when the commit is not in the local object store.
func (g *GitDiffer) Sync(ctx context.Context, sha string) error {
	repo, err := g.open()
	if err != nil {
		return err
	}
	h := plumbing.NewHash(sha)
	if _, err := repo.CommitObject(h); err != nil {
		ferr := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin"})
		if ferr != nil && !errors.Is(ferr, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("fetch origin: %w", ferr)
		}
		if _, err := repo.CommitObject(h); err != nil {
			return fmt.Errorf("commit %s not found after fetch: %w", sha, err)
		}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: h, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", sha, err)
	}
	return nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve revision %q: %w", rev, err)
	}
	commit, err := repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", h, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", h, err)
	}
	return tree, nil
}
