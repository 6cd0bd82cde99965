package sandbox

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/testcontainers/testcontainers-go"

	"ba-agent-core/internal/errors"
)

// RunSpec describes one container launch: either a code file mounted
// read-only at /workspace and run with the given interpreter command, or a
// bare command line run with no mount at all.
type RunSpec struct {
	Image           string
	Command         []string
	WorkspaceDir    string // host dir to bind read-only at /workspace; empty for plain commands
	MemoryLimitMB   int64
	CPUQuota        float64
	NetworkDisabled bool
	Timeout         time.Duration
}

// RunResult is what a ContainerRuntime reports after one container exits.
type RunResult struct {
	Stdout string
	Stderr string
	ExitCode int
	TimedOut bool
}

// ContainerRuntime launches one short-lived container per call and
// guarantees its removal on every exit path. Implementations must be safe
// for concurrent use; the executor calls Run from multiple goroutines.
type ContainerRuntime interface {
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
}

// TestcontainersRuntime is the production ContainerRuntime, backed by
// testcontainers-go. It applies RunSpec's image, command, workspace mount,
// network setting and timeout; MemoryLimitMB and CPUQuota are not applied
// to the container.
type TestcontainersRuntime struct{}

// NewTestcontainersRuntime builds the testcontainers-backed runtime.
func NewTestcontainersRuntime() *TestcontainersRuntime {
	return &TestcontainersRuntime{}
}

func (r *TestcontainersRuntime) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	req := testcontainers.ContainerRequest{
		Image: spec.Image,
		Cmd:   spec.Command,
	}
	if spec.NetworkDisabled {
		req.NetworkMode = "none"
	}
	if spec.WorkspaceDir != "" {
		req.Mounts = testcontainers.ContainerMounts{
			{
				Source:   testcontainers.GenericBindMountSource{HostPath: spec.WorkspaceDir},
				Target:   "/workspace",
				ReadOnly: true,
			},
		}
	}

	container, err := testcontainers.GenericContainer(runCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if container != nil {
		defer func() { _ = container.Terminate(context.Background()) }()
	}
	if err != nil {
		if runCtx.Err() != nil {
			return RunResult{TimedOut: true}, errors.Wrap(errors.KindTimeout, "container did not start before timeout", err)
		}
		return RunResult{}, errors.Wrap(errors.KindInternal, "failed to start container", err)
	}

	exitCode, waitErr := waitForExit(runCtx, container)
	if runCtx.Err() != nil {
		return RunResult{TimedOut: true}, errors.New(errors.KindTimeout, "container execution exceeded its timeout")
	}
	if waitErr != nil {
		return RunResult{}, errors.Wrap(errors.KindInternal, "failed waiting for container exit", waitErr)
	}

	stdout, stderr := collectLogs(runCtx, container)
	return RunResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func waitForExit(ctx context.Context, container testcontainers.Container) (int, error) {
	state, err := container.State(ctx)
	if err != nil {
		return -1, err
	}
	for state.Running {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		state, err = container.State(ctx)
		if err != nil {
			return -1, err
		}
	}
	return state.ExitCode, nil
}

func collectLogs(ctx context.Context, container testcontainers.Container) (string, string) {
	rc, err := container.Logs(ctx)
	if err != nil {
		return "", ""
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return string(data), ""
}

// NoopRuntime is a ContainerRuntime stand-in for unit tests that must not
// require a Docker daemon. It echoes back a canned result per call so the
// executor's validation, caching and spill logic can be exercised without
// containers.
type NoopRuntime struct {
	Result RunResult
	Err error
}

func (n *NoopRuntime) Run(_ context.Context, _ RunSpec) (RunResult, error) {
	if n.Err != nil {
		return RunResult{}, n.Err
	}
	return n.Result, nil
}

// writeTempWorkspace writes code to a throwaway directory with a single
// file in it, suitable for a read-only bind mount.
func writeTempWorkspace(code string) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp("", "sandbox-*")
	if err != nil {
		return "", nil, err
	}
	if werr := os.WriteFile(filepath.Join(dir, "main.py"), []byte(code), 0o444); werr != nil {
		os.RemoveAll(dir)
		return "", nil, werr
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
