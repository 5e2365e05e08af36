package publish

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/go-github/v60/github"
	"github.com/pkg/errors"

	"releasebot/models"
)

// GitHubBackend publishes releases through the GitHub API.
type GitHubBackend struct {
	client *github.Client
	owner  string
	repo   string
}

func NewGitHubBackend(owner, repo, token string) *GitHubBackend {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubBackend{client: client, owner: owner, repo: repo}
}

func (g *GitHubBackend) CreateRelease(ctx context.Context, tag string) error {
	// Check-then-create: the API reports an existing tag as a 422 validation
	// error, but an explicit lookup keeps the conflict path unambiguous.
	_, resp, err := g.client.Repositories.GetReleaseByTag(ctx, g.owner, g.repo, tag)
	if err == nil {
		return models.ErrPublishConflict
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return &models.TransientError{Op: "look up release " + tag, Err: err}
	}

	_, resp, err = g.client.Repositories.CreateRelease(ctx, g.owner, g.repo, &github.RepositoryRelease{
		TagName: github.String(tag),
		Name:    github.String(tag),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			// Lost a race with a concurrent publish of the same tag.
			return models.ErrPublishConflict
		}
		return &models.TransientError{Op: "create release " + tag, Err: err}
	}
	return nil
}

func (g *GitHubBackend) AttachArtifact(ctx context.Context, tag string, artifact models.BuildArtifact) error {
	release, _, err := g.client.Repositories.GetReleaseByTag(ctx, g.owner, g.repo, tag)
	if err != nil {
		return errors.Wrapf(err, "look up release %s for upload", tag)
	}

	// The upload endpoint wants a file on disk.
	tmp, err := os.CreateTemp("", "releasebot-asset-")
	if err != nil {
		return errors.Wrap(err, "stage artifact for upload")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(artifact.Data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "stage artifact for upload")
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		tmp.Close()
		return errors.Wrap(err, "stage artifact for upload")
	}
	defer tmp.Close()

	_, _, err = g.client.Repositories.UploadReleaseAsset(ctx, g.owner, g.repo, release.GetID(), &github.UploadOptions{
		Name: filepath.Base(artifact.Name),
	}, tmp)
	if err != nil {
		return errors.Wrapf(err, "upload %s to release %s", artifact.Name, tag)
	}
	return nil
}
