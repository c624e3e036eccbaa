package sourcecontrol

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Clone clones repo's default branch into dir, authenticating with the
// adapter's configured token when present. Used the first time the
// orchestrator is asked to manage a project it has no local working copy
// for yet; subsequent updates go through Checkout.
func (a *Adapter) Clone(repo Repository, dir string) error {
	opts := &git.CloneOptions{
		URL: fmt.Sprintf("https://github.com/%s/%s.git", repo.Owner, repo.Name),
	}
	if a.token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: a.token}
	}
	if _, err := git.PlainClone(dir, false, opts); err != nil {
		return fmt.Errorf("clone %s into %s: %w", repo, dir, err)
	}
	return nil
}

// Checkout resets dir's working tree to ref (branch, tag, or commit SHA),
// the same hard-reset shape the orchestrator's rollback path uses.
func (a *Adapter) Checkout(dir, ref string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("open repo at %s: %w", dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	hash, err := resolveRef(repo, ref)
	if err != nil {
		return err
	}

	if err := wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("reset to %s: %w", ref, err)
	}
	return nil
}

func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if h := plumbing.NewHash(ref); !h.IsZero() {
		if _, err := repo.CommitObject(h); err == nil {
			return h, nil
		}
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
	}
	for _, name := range candidates {
		r, err := repo.Reference(name, true)
		if err == nil {
			return r.Hash(), nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("resolve ref %q: not a commit, branch, or tag", ref)
}
