package branchstate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/arittr/spectacular-codex/internal/errors"
)

// GoGitReader implements Reader in-process with go-git, without spawning git.
type GoGitReader struct {
	lock sync.Locker
}

// GoGitOption configures a GoGitReader.
type GoGitOption func(*GoGitReader)

// WithLocker makes the reader hold l for the duration of every query, so that
// reads are serialized with git commands issued elsewhere in the process.
func WithLocker(l sync.Locker) GoGitOption {
	return func(r *GoGitReader) {
		r.lock = l
	}
}

// NewGoGitReader creates a GoGitReader.
func NewGoGitReader(opts ...GoGitOption) *GoGitReader {
	r := &GoGitReader{lock: noopLocker{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *GoGitReader) open(repoDir string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(repoDir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, errors.NewGitError("failed to open repository", errors.Join(errors.ErrNotGitRepository, err)).
			WithRepository(repoDir)
	}
	return repo, nil
}

// ListBranches lists local branches by name prefix.
func (r *GoGitReader) ListBranches(_ context.Context, repoDir, prefix string) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	repo, err := r.open(repoDir)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Branches()
	if err != nil {
		return nil, errors.NewGitError("failed to list branches", err).WithRepository(repoDir)
	}
	defer iter.Close()

	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if name := ref.Name().Short(); strings.HasPrefix(name, prefix) {
			branches = append(branches, name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewGitError("failed to iterate branches", err).WithRepository(repoDir)
	}

	sort.Strings(branches)
	return branches, nil
}

// CommitsAhead counts commits reachable from branch that are not ancestors of baseRef.
func (r *GoGitReader) CommitsAhead(ctx context.Context, repoDir, baseRef, branch string) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	repo, err := r.open(repoDir)
	if err != nil {
		return 0, err
	}

	baseHash, err := resolve(repo, baseRef)
	if err != nil {
		return 0, errors.NewGitError(fmt.Sprintf("failed to resolve %s", baseRef), err).WithRepository(repoDir)
	}
	branchHash, err := resolve(repo, branch)
	if err != nil {
		return 0, errors.NewGitError(fmt.Sprintf("failed to resolve %s", branch), err).
			WithRepository(repoDir).WithBranch(branch)
	}

	base, err := ancestors(repo, baseHash)
	if err != nil {
		return 0, errors.NewGitError("failed to walk base history", err).WithRepository(repoDir)
	}

	// Walk back from the branch tip, pruning at commits the base already contains.
	count := 0
	seen := map[plumbing.Hash]bool{}
	queue := []plumbing.Hash{branchHash}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		h := queue[0]
		queue = queue[1:]
		if seen[h] || base[h] {
			continue
		}
		seen[h] = true
		count++

		c, err := repo.CommitObject(h)
		if err != nil {
			return 0, errors.NewGitError("failed to read commit", err).WithRepository(repoDir)
		}
		queue = append(queue, c.ParentHashes...)
	}
	return count, nil
}

// ResolveRef resolves ref to a commit hash.
func (r *GoGitReader) ResolveRef(_ context.Context, repoDir, ref string) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	repo, err := r.open(repoDir)
	if err != nil {
		return "", err
	}
	h, err := resolve(repo, ref)
	if err != nil {
		return "", errors.NewGitError(fmt.Sprintf("failed to resolve %s", ref), errors.ErrBranchNotFound).
			WithRepository(repoDir)
	}
	return h.String(), nil
}

func resolve(repo *git.Repository, ref string) (plumbing.Hash, error) {
	h, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return *h, nil
}

func ancestors(repo *git.Repository, from plumbing.Hash) (map[plumbing.Hash]bool, error) {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	set := make(map[plumbing.Hash]bool)
	err = iter.ForEach(func(c *object.Commit) error {
		set[c.Hash] = true
		return nil
	})
	return set, err
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

var _ Reader = (*GoGitReader)(nil)
