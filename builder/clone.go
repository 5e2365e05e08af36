package builder

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"releasebot/models"
)

// cloneRef shallow-clones a single ref into dir. The ref was validated as a
// branch or tag but we do not know which, so the tag form is tried first
// (watch triggers always carry tags) and the branch form second.
func cloneRef(ctx context.Context, dir, repoURL, ref string) error {
	candidates := []plumbing.ReferenceName{
		plumbing.NewTagReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
	}
	var lastErr error
	for _, name := range candidates {
		_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           repoURL,
			ReferenceName: name,
			SingleBranch:  true,
			Depth:         1,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		// A failed attempt may leave a partial checkout behind.
		if err := clearDir(dir); err != nil {
			return &models.TransientError{Op: "reset build workspace", Err: err}
		}
	}
	return &models.TransientError{Op: "clone " + repoURL + "@" + ref, Err: lastErr}
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
