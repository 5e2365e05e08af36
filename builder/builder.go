// Package builder runs build jobs: clone the requested ref, run the build
// command in a container, and package the produced binary as an artifact.
package builder

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"releasebot/config"
	"releasebot/models"
)

const containerWorkdir = "/workspace"

type job struct {
	req         models.BuildRequest
	containerID string
	workdir     string
}

// DockerBackend implements dispatch.BuildBackend on the local Docker daemon.
type DockerBackend struct {
	docker *client.Client
	cfg    config.Build
	log    logrus.FieldLogger

	mu   sync.Mutex
	jobs map[string]*job
}

func NewDockerBackend(cfg config.Build, log logrus.FieldLogger) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	return &DockerBackend{docker: cli, cfg: cfg, log: log, jobs: make(map[string]*job)}, nil
}

// Submit clones the requested ref into a scratch workspace and starts the
// build container. The returned job ID is resolved by Await.
func (b *DockerBackend) Submit(ctx context.Context, req models.BuildRequest) (string, error) {
	workdir, err := os.MkdirTemp("", "releasebot-build-")
	if err != nil {
		return "", errors.Wrap(err, "create build workspace")
	}

	if err := cloneRef(ctx, workdir, req.RepositoryURL, req.VersionRef); err != nil {
		os.RemoveAll(workdir)
		return "", err
	}

	if err := b.pullImage(ctx); err != nil {
		os.RemoveAll(workdir)
		return "", err
	}

	created, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      b.cfg.Image,
			Cmd:        b.cfg.Command,
			WorkingDir: containerWorkdir,
		},
		&container.HostConfig{
			Binds: []string{workdir + ":" + containerWorkdir},
		},
		nil, nil, "releasebot-"+req.BuildID)
	if err != nil {
		os.RemoveAll(workdir)
		return "", &models.TransientError{Op: "create build container", Err: err}
	}
	if err := b.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		b.cleanup(&job{containerID: created.ID, workdir: workdir})
		return "", &models.TransientError{Op: "start build container", Err: err}
	}

	b.mu.Lock()
	b.jobs[created.ID] = &job{req: req, containerID: created.ID, workdir: workdir}
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"build_id":  req.BuildID,
		"container": created.ID[:12],
	}).Info("build container started")
	return created.ID, nil
}

// Await blocks until the build container exits, then packages the configured
// output path as the artifact. A non-zero exit is a terminal BuildError
// carrying the tail of the container log.
func (b *DockerBackend) Await(ctx context.Context, jobID string) (models.BuildArtifact, error) {
	b.mu.Lock()
	j, ok := b.jobs[jobID]
	b.mu.Unlock()
	if !ok {
		return models.BuildArtifact{}, errors.Errorf("unknown build job %s", jobID)
	}
	defer func() {
		b.mu.Lock()
		delete(b.jobs, jobID)
		b.mu.Unlock()
		b.cleanup(j)
	}()

	waitCtx := ctx
	if b.cfg.Timeout.Std() > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout.Std())
		defer cancel()
	}

	statusCh, errCh := b.docker.ContainerWait(waitCtx, j.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return models.BuildArtifact{}, &models.TransientError{Op: "wait for build container", Err: err}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return models.BuildArtifact{}, &models.BuildError{
				BuildID:    j.req.BuildID,
				VersionRef: j.req.VersionRef,
				Reason:     fmt.Sprintf("build exited with code %d: %s", status.StatusCode, b.logTail(ctx, j.containerID)),
			}
		}
	}

	data, err := b.extractOutput(ctx, j.containerID)
	if err != nil {
		return models.BuildArtifact{}, err
	}
	return models.BuildArtifact{
		Name:    artifactName(b.cfg.OutputPath, j.req.VersionRef),
		Version: j.req.VersionRef,
		Data:    data,
	}, nil
}

func (b *DockerBackend) pullImage(ctx context.Context) error {
	rc, err := b.docker.ImagePull(ctx, b.cfg.Image, types.ImagePullOptions{})
	if err != nil {
		return &models.TransientError{Op: "pull build image " + b.cfg.Image, Err: err}
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	if err != nil {
		return &models.TransientError{Op: "pull build image " + b.cfg.Image, Err: err}
	}
	return nil
}

// extractOutput copies the configured output path out of the stopped
// container. The copy arrives as a single-entry tar stream.
func (b *DockerBackend) extractOutput(ctx context.Context, containerID string) ([]byte, error) {
	rc, _, err := b.docker.CopyFromContainer(ctx, containerID, b.cfg.OutputPath)
	if err != nil {
		return nil, &models.BuildError{Reason: fmt.Sprintf("build produced no output at %s: %v", b.cfg.OutputPath, err)}
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read artifact archive")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrap(err, "read artifact data")
		}
		return data, nil
	}
	return nil, &models.BuildError{Reason: "artifact archive contained no regular file"}
}

func (b *DockerBackend) logTail(ctx context.Context, containerID string) string {
	rc, err := b.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "20",
	})
	if err != nil {
		return "(logs unavailable)"
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 8<<10))
	if err != nil {
		return "(logs unavailable)"
	}
	return strings.TrimSpace(string(data))
}

func (b *DockerBackend) cleanup(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if j.containerID != "" {
		if err := b.docker.ContainerRemove(ctx, j.containerID, container.RemoveOptions{Force: true}); err != nil {
			b.log.WithError(err).Warn("could not remove build container")
		}
	}
	if j.workdir != "" {
		os.RemoveAll(j.workdir)
	}
}

// artifactName stamps the version into the configured output file name:
// dist/app.zip + 1.1.0 -> app-1.1.0.zip.
func artifactName(outputPath, version string) string {
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + version + ext
}
