package models

import (
	"encoding/json"
	"time"
)

// Lifecycle event names recorded against a build request. The events map is
// persisted as JSONB alongside the request row.
const (
	EventRequestReceived  = "REQUEST_RECEIVED"
	EventValidated        = "VALIDATED"
	EventValidationFailed = "VALIDATION_FAILED"
	EventRefFallback      = "REF_FALLBACK"
	EventDispatchQueued   = "DISPATCH_QUEUED"
	EventBuildPassed      = "BUILD_PASSED"
	EventBuildFailed      = "BUILD_FAILED"
	EventPublished        = "PUBLISHED"
	EventPublishFailed    = "PUBLISH_FAILED"
)

// State is the lifecycle state of a BuildRequest.
type State string

const (
	StatePending        State = "PENDING"
	StateValidating     State = "VALIDATING"
	StateRejected       State = "REJECTED"
	StateDispatched     State = "DISPATCHED"
	StateBuildSucceeded State = "BUILD_SUCCEEDED"
	StateBuildFailed    State = "BUILD_FAILED"
	StatePublished      State = "PUBLISHED"
	StatePublishFailed  State = "PUBLISH_FAILED"
)

var transitions = map[State][]State{
	StatePending:        {StateValidating},
	StateValidating:     {StateDispatched, StateRejected},
	StateDispatched:     {StateBuildSucceeded, StateBuildFailed},
	StateBuildSucceeded: {StatePublished, StatePublishFailed},
}

// CanTransition reports whether moving from one lifecycle state to another is
// allowed. Terminal states (REJECTED, BUILD_FAILED, PUBLISHED,
// PUBLISH_FAILED) have no
// outgoing transitions; a re-trigger starts a fresh request instead.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing transitions.
func Terminal(s State) bool {
	return len(transitions[s]) == 0
}

// Outcome is the single status a finished invocation reports.
type Outcome string

const (
	OutcomeSkipped            Outcome = "skipped-no-new-version"
	OutcomeDispatched         Outcome = "dispatched"
	OutcomeBuildFailed        Outcome = "build-failed"
	OutcomePublished          Outcome = "published"
	OutcomePublishFailed      Outcome = "publish-failed"
	OutcomeValidationRejected Outcome = "validation-rejected"
)

// Event is a single timestamped lifecycle entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	URL       string    `json:"url,omitempty"`
}

// BuildRequest is a validated instruction to build one version of one
// repository. Events accumulates the lifecycle trail.
type BuildRequest struct {
	BuildID       string           `json:"build_id"`
	RepositoryURL string           `json:"repository_url"`
	VersionRef    string           `json:"version_ref"`
	State         State            `json:"state"`
	Events        map[string]Event `json:"events,omitempty"`
}

// Record appends a lifecycle event, creating the map on first use.
func (b *BuildRequest) Record(name string, ev Event) {
	if b.Events == nil {
		b.Events = make(map[string]Event)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.Events[name] = ev
}

// BuildArtifact is the packaged output of a successful build. The orchestrator
// never inspects Data beyond handing it to the release backend.
type BuildArtifact struct {
	Name    string
	Version string
	Data    []byte
}

// Release is a published tag with its attached artifacts.
type Release struct {
	Tag       string    `json:"tag"`
	Artifacts []string  `json:"artifacts"`
	CreatedAt time.Time `json:"created_at"`
}

// DispatchMessage is the wire payload produced to the build-request topic.
type DispatchMessage struct {
	BuildID       string `json:"build_id"`
	RepositoryURL string `json:"repository_url"`
	VersionRef    string `json:"version_ref"`
}

// DispatchRequest is the manual-trigger HTTP body. Both fields are optional;
// empty values fall back to the configured upstream URL and default ref.
type DispatchRequest struct {
	RepositoryURL string `json:"repository_url,omitempty"`
	VersionRef    string `json:"version_ref,omitempty"`
}

// DispatchResponse returns the build ID assigned to an accepted trigger.
type DispatchResponse struct {
	BuildID string  `json:"build_id"`
	Outcome Outcome `json:"outcome"`
}

// BuildInfo is the persisted view of a request served back over the HTTP API.
type BuildInfo struct {
	BuildID       string          `json:"build_id"`
	RepositoryURL string          `json:"repository_url"`
	VersionRef    string          `json:"version_ref"`
	State         State           `json:"state"`
	Events        json.RawMessage `json:"events"`
}
