package sandbox

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/filestore"
)

func newTestExecutor(t *testing.T, rt ContainerRuntime) *Executor {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	fs, err := filestore.New(&cfg.FileStore, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	sec := config.SecurityConfig{
		CommandWhitelist: []string{"ls", "echo"},
		ModuleWhitelist:  []string{"json", "math"},
	}
	return New(cfg.Docker, sec, rt, fs, nil)
}

func TestExecuteCommandRejectsDisallowedExecutable(t *testing.T) {
	e := newTestExecutor(t, &NoopRuntime{})
	res := e.ExecuteCommand(context.Background(), "call-1", "rm -rf /", Limits{}, NoCache)
	assert.False(t, res.Success)
	assert.Equal(t, "NOT_PERMITTED", res.ErrorKind)
}

func TestExecuteCommandRunsAllowedExecutable(t *testing.T) {
	e := newTestExecutor(t, &NoopRuntime{Result: RunResult{Stdout: "hello\n", ExitCode: 0}})
	res := e.ExecuteCommand(context.Background(), "call-1", "echo hello", Limits{}, NoCache)
	require.True(t, res.Success)
	assert.Contains(t, res.Observation, "hello")
}

func TestExecuteCodeRejectsDisallowedImport(t *testing.T) {
	e := newTestExecutor(t, &NoopRuntime{})
	res := e.ExecuteCode(context.Background(), "call-1", "import os\nos.system('ls')", Limits{}, NoCache)
	assert.False(t, res.Success)
	assert.Equal(t, "NOT_PERMITTED", res.ErrorKind)
}

func TestExecuteCodeMemoizesByInput(t *testing.T) {
	rt := &countingRuntime{result: RunResult{Stdout: "42\n", ExitCode: 0}}
	e := newTestExecutor(t, rt)
	code := "import math\nprint(math.factorial(5))"

	res1 := e.ExecuteCode(context.Background(), "call-1", code, Limits{}, MemoizeByInput)
	require.True(t, res1.Success)
	res2 := e.ExecuteCode(context.Background(), "call-2", code, Limits{}, MemoizeByInput)
	require.True(t, res2.Success)

	assert.Equal(t, 1, rt.calls, "second call with identical input must hit the cache, not the runtime")
	assert.Equal(t, res1.Observation, res2.Observation)
}

func TestExecuteCodeDoesNotCacheWithoutPolicy(t *testing.T) {
	rt := &countingRuntime{result: RunResult{Stdout: "42\n", ExitCode: 0}}
	e := newTestExecutor(t, rt)
	code := "import math\nprint(math.factorial(5))"

	e.ExecuteCode(context.Background(), "call-1", code, Limits{}, NoCache)
	e.ExecuteCode(context.Background(), "call-2", code, Limits{}, NoCache)

	assert.Equal(t, 2, rt.calls)
}

func TestExecuteCommandSpillsLargeResultToCache(t *testing.T) {
	big := strings.Repeat("x", spillThresholdBytes+1)
	e := newTestExecutor(t, &NoopRuntime{Result: RunResult{Stdout: big, ExitCode: 0}})
	res := e.ExecuteCommand(context.Background(), "call-1", "echo hello", Limits{}, NoCache)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.ArtifactID)
	assert.NotContains(t, res.Observation, big)
}

func TestExecuteCommandSurfacesRuntimeFailure(t *testing.T) {
	e := newTestExecutor(t, &NoopRuntime{Result: RunResult{Stdout: "", Stderr: "boom", ExitCode: 1}})
	res := e.ExecuteCommand(context.Background(), "call-1", "ls", Limits{}, NoCache)
	assert.False(t, res.Success)
}

type countingRuntime struct {
	calls int
	result RunResult
}

func (c *countingRuntime) Run(_ context.Context, _ RunSpec) (RunResult, error) {
	c.calls++
	return c.result, nil
}
