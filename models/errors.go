package models

import (
	"errors"
	"fmt"
)

// ErrPublishConflict marks an attempt to create a release for a tag that
// already exists. Callers treat it as success, never as a failure.
var ErrPublishConflict = errors.New("release already exists")

// InputError is a malformed URL or unusable ref. Never retried; reported
// straight back to the caller.
type InputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// TransientError wraps a network or backend failure that is worth retrying
// with backoff. Anything not wrapped in it is treated as permanent.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// BuildError is a terminal failure reported by the external build job. It is
// surfaced, never retried automatically; the next schedule or an operator
// re-triggers.
type BuildError struct {
	BuildID    string
	VersionRef string
	Reason     string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s for ref %s failed: %s", e.BuildID, e.VersionRef, e.Reason)
}

// PartialPublishError means the tag was created but the artifact could not be
// attached. A tag without its artifact is the worst terminal state this system
// can reach, so it carries everything an operator needs to finish the job by
// hand.
type PartialPublishError struct {
	Tag      string
	Artifact string
	Err      error
}

func (e *PartialPublishError) Error() string {
	return fmt.Sprintf("release %s created but attaching %s failed: %v", e.Tag, e.Artifact, e.Err)
}

func (e *PartialPublishError) Unwrap() error { return e.Err }
