// Package orchestrator runs one build request end to end: validate, dispatch,
// build, publish. Each invocation runs to a terminal outcome and exits; there
// is no long-lived state beyond the externally persisted version marker.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"releasebot/dispatch"
	"releasebot/models"
	"releasebot/publish"
	"releasebot/validate"
	"releasebot/watcher"
)

// Sink receives every lifecycle change of a request. The Postgres store
// implements it; tests use an in-memory recorder.
type Sink interface {
	Save(ctx context.Context, req models.BuildRequest) error
}

// ReleaseSink records published releases. Optional.
type ReleaseSink interface {
	SaveRelease(ctx context.Context, rel models.Release) error
}

type discardSink struct{}

func (discardSink) Save(ctx context.Context, req models.BuildRequest) error { return nil }

// Orchestrator wires the four pipeline stages together.
type Orchestrator struct {
	Watcher    *watcher.Watcher
	Validator  *validate.Validator
	Dispatcher *dispatch.Dispatcher
	Publisher  *publish.Publisher
	Sink       Sink
	Releases   ReleaseSink
	Log        logrus.FieldLogger
}

// RunScheduled executes one watch tick. When the watcher finds a new version
// the request is run to completion; otherwise the invocation reports
// skipped-no-new-version.
func (o *Orchestrator) RunScheduled(ctx context.Context, buildID string) (models.Outcome, error) {
	req, err := o.Watcher.Check(ctx)
	if err != nil {
		return models.OutcomeSkipped, err
	}
	if req == nil {
		return models.OutcomeSkipped, nil
	}
	req.BuildID = buildID
	return o.Run(ctx, *req)
}

// RunManual executes one user-triggered request.
func (o *Orchestrator) RunManual(ctx context.Context, buildID, repositoryURL, versionRef string) (models.Outcome, error) {
	req := models.BuildRequest{
		BuildID:       buildID,
		RepositoryURL: repositoryURL,
		VersionRef:    versionRef,
		State:         models.StatePending,
	}
	req.Record(models.EventRequestReceived, models.Event{Reason: "manual trigger"})
	return o.Run(ctx, req)
}

// Run drives an already-received request through validation, dispatch and
// publish. Every terminal outcome is persisted and reported; nothing is left
// pending silently.
func (o *Orchestrator) Run(ctx context.Context, req models.BuildRequest) (models.Outcome, error) {
	log := o.log().WithFields(logrus.Fields{
		"build_id":    req.BuildID,
		"version_ref": req.VersionRef,
	})

	o.transition(&req, models.StateValidating)
	validated, err := o.Validator.Validate(ctx, req.BuildID, req.RepositoryURL, req.VersionRef)
	if err != nil {
		// The row may already exist as PENDING from the trigger side, so the
		// failure has to land in the store either way.
		o.transition(&req, models.StateRejected)
		req.Record(models.EventValidationFailed, models.Event{Reason: err.Error()})
		o.save(ctx, req)
		var inputErr *models.InputError
		if errors.As(err, &inputErr) {
			log.WithError(err).Warn("trigger rejected")
			return models.OutcomeValidationRejected, err
		}
		// Not a bad input: the refs could not be listed at all. The next
		// schedule retries from scratch.
		log.WithError(err).Warn("validation could not complete")
		return models.OutcomeSkipped, err
	}
	mergeEvents(&validated, req.Events)
	req = validated

	o.transition(&req, models.StateDispatched)
	req.Record(models.EventDispatchQueued, models.Event{})
	o.save(ctx, req)

	artifact, err := o.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		var inFlight *dispatch.ErrAlreadyInFlight
		if errors.As(err, &inFlight) {
			// Another run owns this versionRef; this invocation has nothing
			// left to do.
			log.Info("duplicate trigger, build already in flight")
			return models.OutcomeDispatched, nil
		}
		var buildErr *models.BuildError
		if errors.As(err, &buildErr) {
			o.transition(&req, models.StateBuildFailed)
			req.Record(models.EventBuildFailed, models.Event{Reason: buildErr.Reason})
			o.save(ctx, req)
			log.WithError(err).Error("build failed")
			return models.OutcomeBuildFailed, err
		}
		o.transition(&req, models.StateBuildFailed)
		req.Record(models.EventBuildFailed, models.Event{Reason: err.Error()})
		o.save(ctx, req)
		return models.OutcomeBuildFailed, err
	}

	o.transition(&req, models.StateBuildSucceeded)
	req.Record(models.EventBuildPassed, models.Event{})
	o.save(ctx, req)

	result, err := o.Publisher.Publish(ctx, artifact)
	if err != nil {
		o.transition(&req, models.StatePublishFailed)
		req.Record(models.EventPublishFailed, models.Event{Reason: err.Error()})
		o.save(ctx, req)
		log.WithError(err).Error("publish failed")
		return models.OutcomePublishFailed, err
	}

	o.transition(&req, models.StatePublished)
	req.Record(models.EventPublished, models.Event{Reason: string(result)})
	o.save(ctx, req)
	if result == publish.ResultPublished && o.Releases != nil {
		rel := models.Release{
			Tag:       artifact.Version,
			Artifacts: []string{artifact.Name},
			CreatedAt: time.Now().UTC(),
		}
		if err := o.Releases.SaveRelease(ctx, rel); err != nil {
			log.WithError(err).Warn("could not record published release")
		}
	}
	log.WithField("result", string(result)).Info("request complete")
	return models.OutcomePublished, nil
}

func (o *Orchestrator) transition(req *models.BuildRequest, to models.State) {
	if !models.CanTransition(req.State, to) {
		o.log().WithFields(logrus.Fields{
			"build_id": req.BuildID,
			"from":     string(req.State),
			"to":       string(to),
		}).Warn("unexpected lifecycle transition")
	}
	req.State = to
}

func (o *Orchestrator) save(ctx context.Context, req models.BuildRequest) {
	if err := o.sink().Save(ctx, req); err != nil {
		o.log().WithField("build_id", req.BuildID).WithError(err).Warn("could not persist build state")
	}
}

func (o *Orchestrator) sink() Sink {
	if o.Sink != nil {
		return o.Sink
	}
	return discardSink{}
}

func (o *Orchestrator) log() logrus.FieldLogger {
	if o.Log != nil {
		return o.Log
	}
	return logrus.StandardLogger()
}

func mergeEvents(dst *models.BuildRequest, events map[string]models.Event) {
	for name, ev := range events {
		if dst.Events == nil {
			dst.Events = make(map[string]models.Event)
		}
		if _, ok := dst.Events[name]; !ok {
			dst.Events[name] = ev
		}
	}
}
