package executor

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

const (
	dockerPidsLimit     = 64
	dockerCleanupBudget = 10 * time.Second
)

// sandboxDir is an anonymous per-container volume holding the source file
// and the stdin file. It is filled with CopyToContainer before start.
const sandboxDir = "/sandbox"

type dockerProgram struct {
	source string
	script string
}

var dockerPrograms = map[domain.Language]dockerProgram{
	domain.LangPython: {
		source: "main.py",
		script: "python3 /sandbox/main.py < /sandbox/input",
	},
	domain.LangJavaScript: {
		source: "main.js",
		script: "node /sandbox/main.js < /sandbox/input",
	},
	domain.LangCpp: {
		source: "main.cpp",
		script: "g++ -std=c++17 -O2 -o /tmp/program /sandbox/main.cpp && /tmp/program < /sandbox/input",
	},
}

// DockerRuntime runs each task in a fresh, network-less container.
type DockerRuntime struct {
	cli    *client.Client
	images map[domain.Language]string
	logger *zap.Logger
}

// NewDockerRuntime connects to the daemon configured in the environment.
func NewDockerRuntime(images map[domain.Language]string, logger *zap.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: new client: %w", err)
	}
	return &DockerRuntime{cli: cli, images: images, logger: logger}, nil
}

// Close releases the daemon connection.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Ping checks that the daemon is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

func (r *DockerRuntime) Run(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	cfg, hostCfg, err := r.containerConfig(req)
	if err != nil {
		return nil, err
	}

	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("docker: create container: %w", err)
	}
	id := created.ID
	defer r.remove(id)

	archive, err := sandboxArchive(req)
	if err != nil {
		return nil, err
	}
	if err := r.cli.CopyToContainer(ctx, id, sandboxDir, archive, container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("docker: copy program: %w", err)
	}

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("docker: start container: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Limits.TimeLimit)
	defer cancel()

	result := &domain.ExecutionResult{}
	statusCh, errCh := r.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		if runCtx.Err() == nil {
			return nil, fmt.Errorf("docker: wait container: %w", err)
		}
		r.kill(id)
		result.ExitCode = -1
	case <-runCtx.Done():
		r.kill(id)
		result.ExitCode = -1
	}
	result.Duration = time.Since(start)

	// Logs and state are read on a detached context so a cancelled task
	// still reports its partial output.
	readCtx, readCancel := context.WithTimeout(context.WithoutCancel(ctx), dockerCleanupBudget)
	defer readCancel()
	r.collectLogs(readCtx, id, result)

	if ctx.Err() != nil {
		return result, fmt.Errorf("docker: %w", context.Cause(ctx))
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return result, nil
	}

	if inspect, err := r.cli.ContainerInspect(readCtx, id); err == nil && inspect.State != nil {
		result.OOMKilled = inspect.State.OOMKilled
	}
	if !result.OOMKilled && result.ExitCode == 137 {
		result.OOMKilled = true
	}

	r.logger.Debug("docker execution completed",
		zap.String("task_id", req.TaskID.String()),
		zap.String("container_id", shortID(id)),
		zap.Duration("elapsed", result.Duration),
		zap.Int("exit_code", result.ExitCode),
	)
	return result, nil
}

func (r *DockerRuntime) containerConfig(req *domain.ExecutionRequest) (*container.Config, *container.HostConfig, error) {
	program, ok := dockerPrograms[req.Language]
	if !ok {
		return nil, nil, fmt.Errorf("docker: %w: %s", ErrUnsupportedLanguage, req.Language)
	}
	image, ok := r.images[req.Language]
	if !ok || image == "" {
		return nil, nil, fmt.Errorf("docker: no image configured for %s", req.Language)
	}

	pids := int64(dockerPidsLimit)
	cfg := &container.Config{
		Image:           image,
		Cmd:             []string{"sh", "-c", program.script},
		WorkingDir:      sandboxDir,
		Tty:             false,
		NetworkDisabled: true,
		Labels:          map[string]string{"codesandbox.task_id": req.TaskID.String()},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,exec,size=64m"},
		Mounts:         []mount.Mount{{Type: mount.TypeVolume, Target: sandboxDir}},
		Resources: container.Resources{
			Memory:     int64(req.Limits.MemoryLimitKB) * 1024,
			MemorySwap: int64(req.Limits.MemoryLimitKB) * 1024,
			NanoCPUs:   1_000_000_000,
			PidsLimit:  &pids,
		},
	}
	return cfg, hostCfg, nil
}

// sandboxArchive packs the source and stdin as a tar stream, the format
// CopyToContainer expects.
func sandboxArchive(req *domain.ExecutionRequest) (io.Reader, error) {
	program, ok := dockerPrograms[req.Language]
	if !ok {
		return nil, fmt.Errorf("docker: %w: %s", ErrUnsupportedLanguage, req.Language)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()
	for _, f := range []struct{ name, body string }{
		{program.source, req.Code},
		{"input", req.Input},
	} {
		hdr := &tar.Header{
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.body)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("docker: archive %s: %w", f.name, err)
		}
		if _, err := io.WriteString(tw, f.body); err != nil {
			return nil, fmt.Errorf("docker: archive %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("docker: archive: %w", err)
	}
	return &buf, nil
}

func (r *DockerRuntime) collectLogs(ctx context.Context, id string, result *domain.ExecutionResult) {
	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		r.logger.Warn("failed to read container logs", zap.String("container_id", shortID(id)), zap.Error(err))
		return
	}
	defer logs.Close()

	stdout := newCappedOutput(maxOutputBytes)
	stderr := newCappedOutput(maxOutputBytes)
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		r.logger.Warn("failed to demultiplex container logs", zap.String("container_id", shortID(id)), zap.Error(err))
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
}

func (r *DockerRuntime) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), dockerCleanupBudget)
	defer cancel()
	if err := r.cli.ContainerKill(ctx, id, "KILL"); err != nil {
		r.logger.Debug("container kill failed", zap.String("container_id", shortID(id)), zap.Error(err))
	}
}

func (r *DockerRuntime) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), dockerCleanupBudget)
	defer cancel()
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		r.logger.Warn("failed to remove container", zap.String("container_id", shortID(id)), zap.Error(err))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
