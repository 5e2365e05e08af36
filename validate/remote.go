package validate

import (
	"context"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"

	"releasebot/models"
)

// GitRefLister lists remote refs over the Git protocol without cloning,
// the network-facing implementation of RefLister.
type GitRefLister struct{}

func (GitRefLister) ListRefs(ctx context.Context, repoURL string) ([]string, []string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, nil, &models.TransientError{Op: "list remote refs for " + repoURL, Err: err}
	}
	var branches, tags []string
	for _, ref := range refs {
		name := ref.Name()
		switch {
		case name.IsBranch():
			branches = append(branches, name.Short())
		case name.IsTag():
			tags = append(tags, name.Short())
		}
	}
	return branches, tags, nil
}

// ListTags returns just the tag names, used by the version watcher.
func (l GitRefLister) ListTags(ctx context.Context, repoURL string) ([]string, error) {
	_, tags, err := l.ListRefs(ctx, repoURL)
	return tags, err
}
