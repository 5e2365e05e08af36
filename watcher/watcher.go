// Package watcher polls the upstream repository for new semantic-version
// tags and decides whether a build should be triggered.
package watcher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"releasebot/marker"
	"releasebot/models"
	"releasebot/retry"
	"releasebot/version"
)

// TagLister fetches the tag names an upstream repository currently serves.
type TagLister interface {
	ListTags(ctx context.Context, repoURL string) ([]string, error)
}

// Watcher compares the highest upstream tag against the version marker.
type Watcher struct {
	Tags        TagLister
	Marker      marker.Store
	UpstreamURL string
	Log         logrus.FieldLogger

	// Attempts and Backoff bound the retry of transient tag-list failures
	// within one tick. Zero values mean a single attempt.
	Attempts int
	Backoff  time.Duration
}

// Check runs one watch tick. It returns a BuildRequest for the newest
// upstream tag when that tag is strictly newer than the marker, and nil when
// there is nothing to do. Errors are returned for the caller to log; the next
// scheduled tick starts fresh.
func (w *Watcher) Check(ctx context.Context) (*models.BuildRequest, error) {
	var tags []string
	attempts := w.Attempts
	if attempts < 1 {
		attempts = 1
	}
	err := retry.Do(ctx, attempts, w.Backoff, func() error {
		var listErr error
		tags, listErr = w.Tags.ListTags(ctx, w.UpstreamURL)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	latest := version.Highest(tags)
	if latest == "" {
		w.log().WithField("upstream", w.UpstreamURL).Warn("no semver tags on upstream")
		return nil, nil
	}

	current, err := w.Marker.Current(ctx)
	if err != nil {
		return nil, err
	}
	newer, err := version.Newer(latest, current)
	if err != nil {
		return nil, err
	}
	if !newer {
		w.log().WithFields(logrus.Fields{
			"latest": latest,
			"marker": current,
		}).Info("no new version")
		return nil, nil
	}

	w.log().WithFields(logrus.Fields{
		"latest": latest,
		"marker": current,
	}).Info("new upstream version detected")
	req := &models.BuildRequest{
		RepositoryURL: w.UpstreamURL,
		VersionRef:    latest,
		State:         models.StatePending,
	}
	req.Record(models.EventRequestReceived, models.Event{Reason: "scheduled watch"})
	return req, nil
}

func (w *Watcher) log() logrus.FieldLogger {
	if w.Log != nil {
		return w.Log
	}
	return logrus.StandardLogger()
}
