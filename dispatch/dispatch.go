// Package dispatch invokes the external build job, holding at most one
// in-flight dispatch per versionRef so overlapping triggers for the same
// version cannot produce duplicate releases.
package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"releasebot/models"
)

// Reservation is the idempotency guard keyed on versionRef. Acquire reports
// false when another dispatch already holds the ref; Release frees it after a
// failed build so the next schedule can re-trigger.
type Reservation interface {
	Acquire(ctx context.Context, versionRef string) (bool, error)
	Release(ctx context.Context, versionRef string) error
}

// BuildBackend runs the external build job to its terminal status.
type BuildBackend interface {
	// Submit starts the job and returns its identifier.
	Submit(ctx context.Context, req models.BuildRequest) (string, error)
	// Await blocks until the job reaches a terminal status and returns the
	// artifact on success. A failed build comes back as *models.BuildError.
	Await(ctx context.Context, jobID string) (models.BuildArtifact, error)
}

// ErrAlreadyInFlight reports a dispatch skipped because the versionRef is
// reserved by another run.
type ErrAlreadyInFlight struct {
	VersionRef string
}

func (e *ErrAlreadyInFlight) Error() string {
	return "a build for ref " + e.VersionRef + " is already in flight"
}

// Dispatcher drives one validated BuildRequest through the build backend.
type Dispatcher struct {
	Builds  BuildBackend
	Reserve Reservation
	Log     logrus.FieldLogger
}

// Dispatch submits the request and waits for its terminal status. Build
// failures release the reservation; a successful build keeps it until the
// marker advances, closing the duplicate-release window.
func (d *Dispatcher) Dispatch(ctx context.Context, req models.BuildRequest) (models.BuildArtifact, error) {
	ok, err := d.Reserve.Acquire(ctx, req.VersionRef)
	if err != nil {
		return models.BuildArtifact{}, err
	}
	if !ok {
		return models.BuildArtifact{}, &ErrAlreadyInFlight{VersionRef: req.VersionRef}
	}

	jobID, err := d.Builds.Submit(ctx, req)
	if err != nil {
		d.release(ctx, req.VersionRef)
		return models.BuildArtifact{}, err
	}
	d.log().WithFields(logrus.Fields{
		"build_id":    req.BuildID,
		"version_ref": req.VersionRef,
		"job_id":      jobID,
	}).Info("build dispatched")

	artifact, err := d.Builds.Await(ctx, jobID)
	if err != nil {
		d.release(ctx, req.VersionRef)
		return models.BuildArtifact{}, err
	}
	return artifact, nil
}

func (d *Dispatcher) release(ctx context.Context, versionRef string) {
	if err := d.Reserve.Release(ctx, versionRef); err != nil {
		d.log().WithField("version_ref", versionRef).WithError(err).Warn("could not release dispatch reservation")
	}
}

func (d *Dispatcher) log() logrus.FieldLogger {
	if d.Log != nil {
		return d.Log
	}
	return logrus.StandardLogger()
}

// MemoryReservation is an in-process Reservation for tests and single-shot
// runs.
type MemoryReservation struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryReservation() *MemoryReservation {
	return &MemoryReservation{held: make(map[string]bool)}
}

func (m *MemoryReservation) Acquire(ctx context.Context, versionRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[versionRef] {
		return false, nil
	}
	m.held[versionRef] = true
	return true, nil
}

func (m *MemoryReservation) Release(ctx context.Context, versionRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, versionRef)
	return nil
}
