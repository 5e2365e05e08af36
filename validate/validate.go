// Package validate checks trigger inputs before anything is dispatched.
package validate

import (
	"context"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"releasebot/models"
	"releasebot/retry"
)

// Accepted repository URL shape: https://<host>/<owner>/<repo>, optionally
// ending in .git. Anything else is rejected before dispatch.
var repoURLPattern = regexp.MustCompile(`^https://[A-Za-z0-9](?:[A-Za-z0-9.-]*[A-Za-z0-9])?/[A-Za-z0-9._-]+/[A-Za-z0-9._-]+?(\.git)?$`)

// RefLister lists the branches and tags a remote repository currently serves.
type RefLister interface {
	ListRefs(ctx context.Context, repoURL string) (branches, tags []string, err error)
}

// Validator builds BuildRequests out of raw trigger inputs. With Strict unset
// a missing ref softens to DefaultRef with a warning instead of failing; a
// stricter deployment flips Strict and gets a hard rejection.
type Validator struct {
	Refs       RefLister
	DefaultRef string
	Strict     bool
	Log        logrus.FieldLogger

	// Attempts and Backoff bound the retry of transient ref-listing
	// failures. Zero values mean a single attempt.
	Attempts int
	Backoff  time.Duration
}

// CheckURL verifies the repository URL shape without touching the network.
func CheckURL(rawURL string) error {
	if !repoURLPattern.MatchString(rawURL) {
		return &models.InputError{
			Field:  "repositoryURL",
			Value:  rawURL,
			Reason: "must match https://<host>/<owner>/<repo>(.git)?",
		}
	}
	return nil
}

// Validate checks the URL shape and confirms versionRef exists on the remote
// as a branch or tag. The returned request is ready for dispatch.
func (v *Validator) Validate(ctx context.Context, buildID, rawURL, versionRef string) (models.BuildRequest, error) {
	req := models.BuildRequest{
		BuildID:       buildID,
		RepositoryURL: rawURL,
		VersionRef:    versionRef,
		State:         models.StateValidating,
	}
	if err := CheckURL(rawURL); err != nil {
		return req, err
	}
	if versionRef == "" {
		req.VersionRef = v.DefaultRef
	}
	var branches, tags []string
	attempts := v.Attempts
	if attempts < 1 {
		attempts = 1
	}
	err := retry.Do(ctx, attempts, v.Backoff, func() error {
		var listErr error
		branches, tags, listErr = v.Refs.ListRefs(ctx, rawURL)
		return listErr
	})
	if err != nil {
		return req, err
	}
	if contains(branches, req.VersionRef) || contains(tags, req.VersionRef) {
		req.Record(models.EventValidated, models.Event{})
		return req, nil
	}
	if v.Strict {
		return req, &models.InputError{
			Field:  "versionRef",
			Value:  req.VersionRef,
			Reason: "not found as a branch or tag on " + rawURL,
		}
	}
	v.log().WithFields(logrus.Fields{
		"version_ref": req.VersionRef,
		"default_ref": v.DefaultRef,
	}).Warn("ref not found on remote, falling back to default")
	req.Record(models.EventRefFallback, models.Event{
		Reason: "ref " + req.VersionRef + " not found, using " + v.DefaultRef,
	})
	req.VersionRef = v.DefaultRef
	req.Record(models.EventValidated, models.Event{})
	return req, nil
}

func (v *Validator) log() logrus.FieldLogger {
	if v.Log != nil {
		return v.Log
	}
	return logrus.StandardLogger()
}

func contains(refs []string, name string) bool {
	for _, r := range refs {
		if r == name {
			return true
		}
	}
	return false
}
