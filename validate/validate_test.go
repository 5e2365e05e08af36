package validate

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"releasebot/models"
)

type fakeRefLister struct {
	branches []string
	tags     []string
	err      error
}

func (f fakeRefLister) ListRefs(ctx context.Context, repoURL string) ([]string, []string, error) {
	return f.branches, f.tags, f.err
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCheckURL(t *testing.T) {
	accept := []string{
		"https://github.com/aws/upstream-cli",
		"https://github.com/aws/upstream-cli.git",
		"https://gitlab.example.com/team/project",
		"https://codeberg.org/some_user/repo-name.git",
	}
	for _, u := range accept {
		if err := CheckURL(u); err != nil {
			t.Errorf("CheckURL(%q) rejected valid URL: %v", u, err)
		}
	}

	reject := []string{
		"",
		"http://github.com/aws/upstream-cli",
		"ftp://github.com/aws/upstream-cli",
		"https://github.com/aws",
		"https://github.com/aws/upstream/extra",
		"git@github.com:aws/upstream-cli.git",
		"https://github.com/aws/upstream cli",
		"not a url at all",
	}
	for _, u := range reject {
		err := CheckURL(u)
		if err == nil {
			t.Errorf("CheckURL(%q) accepted malformed URL", u)
			continue
		}
		var inputErr *models.InputError
		if !errors.As(err, &inputErr) {
			t.Errorf("CheckURL(%q) returned %T, want *models.InputError", u, err)
		}
	}
}

func TestValidateExistingRef(t *testing.T) {
	v := &Validator{
		Refs:       fakeRefLister{branches: []string{"main"}, tags: []string{"1.0.0", "1.1.0"}},
		DefaultRef: "main",
		Log:        quietLogger(),
	}
	req, err := v.Validate(context.Background(), "b-1", "https://github.com/example/upstream", "1.1.0")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.VersionRef != "1.1.0" {
		t.Fatalf("version ref = %q, want 1.1.0", req.VersionRef)
	}
	if _, ok := req.Events[models.EventValidated]; !ok {
		t.Fatal("validated event not recorded")
	}
	if _, ok := req.Events[models.EventRefFallback]; ok {
		t.Fatal("fallback recorded for an existing ref")
	}
}

func TestValidateBranchRef(t *testing.T) {
	v := &Validator{
		Refs:       fakeRefLister{branches: []string{"main", "release/v2"}},
		DefaultRef: "main",
		Log:        quietLogger(),
	}
	req, err := v.Validate(context.Background(), "b-2", "https://github.com/example/upstream", "release/v2")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.VersionRef != "release/v2" {
		t.Fatalf("version ref = %q, want release/v2", req.VersionRef)
	}
}

func TestValidateMissingRefFallsBack(t *testing.T) {
	v := &Validator{
		Refs:       fakeRefLister{branches: []string{"main"}, tags: []string{"1.0.0"}},
		DefaultRef: "main",
		Log:        quietLogger(),
	}
	req, err := v.Validate(context.Background(), "b-3", "https://github.com/example/upstream", "9.9.9")
	if err != nil {
		t.Fatalf("Validate must soften a missing ref, got %v", err)
	}
	if req.VersionRef != "main" {
		t.Fatalf("version ref = %q, want fallback main", req.VersionRef)
	}
	if _, ok := req.Events[models.EventRefFallback]; !ok {
		t.Fatal("fallback event not recorded")
	}
}

func TestValidateMissingRefStrict(t *testing.T) {
	v := &Validator{
		Refs:       fakeRefLister{branches: []string{"main"}},
		DefaultRef: "main",
		Strict:     true,
		Log:        quietLogger(),
	}
	_, err := v.Validate(context.Background(), "b-4", "https://github.com/example/upstream", "9.9.9")
	var inputErr *models.InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("strict mode returned %v, want *models.InputError", err)
	}
}

func TestValidateEmptyRefUsesDefault(t *testing.T) {
	v := &Validator{
		Refs:       fakeRefLister{branches: []string{"master"}},
		DefaultRef: "master",
		Log:        quietLogger(),
	}
	req, err := v.Validate(context.Background(), "b-5", "https://github.com/example/upstream", "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.VersionRef != "master" {
		t.Fatalf("version ref = %q, want master", req.VersionRef)
	}
}

type seqRefLister struct {
	branches []string
	tags     []string
	errs     []error
	calls    int
}

func (s *seqRefLister) ListRefs(ctx context.Context, repoURL string) ([]string, []string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, nil, err
		}
	}
	return s.branches, s.tags, nil
}

func TestValidateRetriesTransientListFailures(t *testing.T) {
	refs := &seqRefLister{
		tags: []string{"1.1.0"},
		errs: []error{
			&models.TransientError{Op: "list refs", Err: errors.New("timeout")},
			nil,
		},
	}
	v := &Validator{Refs: refs, DefaultRef: "main", Attempts: 3, Log: quietLogger()}

	req, err := v.Validate(context.Background(), "b-7", "https://github.com/example/upstream", "1.1.0")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.VersionRef != "1.1.0" {
		t.Fatalf("version ref = %q, want 1.1.0", req.VersionRef)
	}
	if refs.calls != 2 {
		t.Fatalf("expected 2 list calls, got %d", refs.calls)
	}
}

func TestValidateSurfacesExhaustedRetries(t *testing.T) {
	refs := &seqRefLister{
		errs: []error{
			&models.TransientError{Op: "list refs", Err: errors.New("timeout")},
			&models.TransientError{Op: "list refs", Err: errors.New("timeout")},
		},
	}
	v := &Validator{Refs: refs, DefaultRef: "main", Attempts: 2, Log: quietLogger()}

	_, err := v.Validate(context.Background(), "b-8", "https://github.com/example/upstream", "1.1.0")
	if err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
	if !models.IsTransient(err) {
		t.Fatalf("exhausted retries lost the transient marker: %v", err)
	}
	var inputErr *models.InputError
	if errors.As(err, &inputErr) {
		t.Fatalf("network failure misreported as input error: %v", err)
	}
}

func TestValidateBadURLSkipsRemote(t *testing.T) {
	v := &Validator{
		Refs:       fakeRefLister{err: errors.New("should not be called")},
		DefaultRef: "main",
		Log:        quietLogger(),
	}
	_, err := v.Validate(context.Background(), "b-6", "git@github.com:x/y.git", "main")
	var inputErr *models.InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("bad URL returned %v, want *models.InputError", err)
	}
}
