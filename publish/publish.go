// Package publish creates tagged releases and attaches build artifacts.
// Publishing is idempotent per tag, and a successful publish advances the
// version marker.
package publish

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"releasebot/marker"
	"releasebot/models"
)

// ReleaseBackend is the remote release store.
type ReleaseBackend interface {
	// CreateRelease creates a release for tag. An existing tag returns
	// models.ErrPublishConflict.
	CreateRelease(ctx context.Context, tag string) error
	// AttachArtifact uploads an artifact to an existing release.
	AttachArtifact(ctx context.Context, tag string, artifact models.BuildArtifact) error
}

// Result says what a publish actually did.
type Result string

const (
	ResultPublished     Result = "published"
	ResultAlreadyExists Result = "already-exists"
)

// Publisher drives release creation, artifact attachment and the marker
// compare-and-set.
type Publisher struct {
	Backend ReleaseBackend
	Marker  marker.Store
	Log     logrus.FieldLogger
}

// Publish creates the release for the artifact's version and attaches the
// artifact. Re-publishing an existing tag is a no-op reported as
// ResultAlreadyExists. If the release was created but the artifact cannot be
// attached, the error is a *models.PartialPublishError: the tag exists
// without its artifact and someone has to look at it.
func (p *Publisher) Publish(ctx context.Context, artifact models.BuildArtifact) (Result, error) {
	tag := artifact.Version
	err := p.Backend.CreateRelease(ctx, tag)
	switch {
	case errors.Is(err, models.ErrPublishConflict):
		// The release is already out there, so the marker must still catch
		// up to it; otherwise every following watch tick re-detects the same
		// tag and re-runs the whole build just to hit this conflict again.
		if _, err := p.Marker.Advance(ctx, tag); err != nil {
			p.log().WithField("tag", tag).WithError(err).Warn("existing release but marker not advanced")
		}
		p.log().WithField("tag", tag).Info("release already exists, nothing to publish")
		return ResultAlreadyExists, nil
	case err != nil:
		return "", err
	}

	if err := p.Backend.AttachArtifact(ctx, tag, artifact); err != nil {
		return "", &models.PartialPublishError{Tag: tag, Artifact: artifact.Name, Err: err}
	}

	advanced, err := p.Marker.Advance(ctx, tag)
	if err != nil {
		// The release is complete; a marker failure only risks a redundant
		// (and idempotent) re-publish on the next tick.
		p.log().WithField("tag", tag).WithError(err).Warn("release published but marker not advanced")
		return ResultPublished, nil
	}
	p.log().WithFields(logrus.Fields{
		"tag":             tag,
		"marker_advanced": advanced,
	}).Info("release published")
	return ResultPublished, nil
}

func (p *Publisher) log() logrus.FieldLogger {
	if p.Log != nil {
		return p.Log
	}
	return logrus.StandardLogger()
}
