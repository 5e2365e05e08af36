// Package version selects and orders semantic-version tags.
package version

import (
	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Highest returns the largest semantic-version tag in tags. Tags that do not
// parse as semver (release candidates parse fine, "nightly" does not) are
// skipped rather than treated as errors. Returns "" when nothing parses.
func Highest(tags []string) string {
	var best *semver.Version
	var bestRaw string
	for _, tag := range tags {
		v, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = tag
		}
	}
	return bestRaw
}

// Newer reports whether candidate is strictly greater than current. An empty
// current means no version has ever been published, so any parseable
// candidate is newer.
func Newer(candidate, current string) (bool, error) {
	cv, err := semver.NewVersion(candidate)
	if err != nil {
		return false, errors.Wrapf(err, "parse candidate version %q", candidate)
	}
	if current == "" {
		return true, nil
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false, errors.Wrapf(err, "parse current version %q", current)
	}
	return cv.GreaterThan(cur), nil
}
