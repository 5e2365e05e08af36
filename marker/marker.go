// Package marker persists the last published version and guards it against
// regression: an advance only lands if the new version is strictly greater
// than the stored one, so a stale concurrent run cannot roll it back.
package marker

import (
	"context"
	"sync"

	"releasebot/version"
)

// Store holds the version marker.
type Store interface {
	// Current returns the stored marker, "" if nothing has been published.
	Current(ctx context.Context) (string, error)
	// Advance writes v if it is strictly newer than the stored marker and
	// reports whether the write happened.
	Advance(ctx context.Context, v string) (bool, error)
}

// Memory is an in-process Store used by tests and single-shot runs.
type Memory struct {
	mu      sync.Mutex
	current string
}

func NewMemory(initial string) *Memory {
	return &Memory{current: initial}
}

func (m *Memory) Current(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, nil
}

func (m *Memory) Advance(ctx context.Context, v string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newer, err := version.Newer(v, m.current)
	if err != nil {
		return false, err
	}
	if !newer {
		return false, nil
	}
	m.current = v
	return true, nil
}
