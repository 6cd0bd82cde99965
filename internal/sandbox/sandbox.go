// Package sandbox implements the sandbox executor (C5): validated,
// resource-limited, memoizable execution of short Python snippets and
// allow-listed commands inside fresh per-call containers.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/errors"
	"ba-agent-core/internal/filestore"
	"ba-agent-core/internal/logging"
	"ba-agent-core/pkg/types"
)

// spillThresholdBytes is the serialised observation size above which the
// result is written to the cache category and replaced with an artifact
// reference instead of being inlined into the chat turn.
const spillThresholdBytes = 1 << 20 // ~1 MiB

// CachePolicy selects whether a call's result is memoized.
type CachePolicy string

const (
	NoCache        CachePolicy = "no_cache"
	MemoizeByInput CachePolicy = "memoize_by_input"
)

// Limits overrides the configured defaults for one call.
type Limits struct {
	TimeoutSeconds int
	MemoryLimitMB int64
	CPULimit float64
	NetworkDisabled bool
}

// Executor is the concrete C5 implementation.
type Executor struct {
	cfg config.DockerConfig
	sec config.SecurityConfig
	runtime ContainerRuntime
	store *filestore.Store
	log logging.Logger
}

// New builds an Executor. A nil store disables memoization and large-result
// spill; calls still execute normally.
func New(cfg config.DockerConfig, sec config.SecurityConfig, runtime ContainerRuntime, store *filestore.Store, log logging.Logger) *Executor {
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	return &Executor{cfg: cfg, sec: sec, runtime: runtime, store: store, log: log.WithComponent("sandbox")}
}

// ExecuteCode validates then runs a Python snippet.
func (e *Executor) ExecuteCode(ctx context.Context, toolCallID, code string, limits Limits, cache CachePolicy) types.ToolExecutionResult {
	start := time.Now()

	if err := validateCode(code, e.sec.ModuleWhitelist); err != nil {
		return e.failure(toolCallID, "execute_code", start, err)
	}

	if cache == MemoizeByInput {
		if res, ok := e.lookupCache("execute_code", code); ok {
			return e.finish(toolCallID, "execute_code", start, res)
		}
	}

	workDir, cleanup, err := writeTempWorkspace(code)
	if err != nil {
		return e.failure(toolCallID, "execute_code", start, errors.Wrap(errors.KindInternal, "failed to stage code workspace", err))
	}
	defer cleanup()

	spec := RunSpec{
		Image:           e.cfg.Image,
		Command:         []string{"python", "/workspace/main.py"},
		WorkspaceDir:    workDir,
		MemoryLimitMB:   limitOr(limits.MemoryLimitMB, parseMemoryLimitMB(e.cfg.MemoryLimitCode, 512)),
		CPUQuota:        cpuLimitOr(limits.CPULimit, e.cfg.CPULimit),
		NetworkDisabled: orTrue(limits.NetworkDisabled, e.cfg.NetworkDisabled),
		Timeout:         timeoutOr(limits.TimeoutSeconds, e.cfg.Timeout),
	}

	runRes, runErr := e.runtime.Run(ctx, spec)
	res := toolResultFromRun(runRes, runErr)
	if cache == MemoizeByInput && runErr == nil {
		e.storeCache("execute_code", code, res)
	}
	return e.finish(toolCallID, "execute_code", start, res)
}

// ExecuteCommand validates then runs an allow-listed shell command.
func (e *Executor) ExecuteCommand(ctx context.Context, toolCallID, cmdline string, limits Limits, cache CachePolicy) types.ToolExecutionResult {
	start := time.Now()

	if err := validateCommand(cmdline, e.sec.CommandWhitelist); err != nil {
		return e.failure(toolCallID, "execute_command", start, err)
	}

	if cache == MemoizeByInput {
		if res, ok := e.lookupCache("execute_command", cmdline); ok {
			return e.finish(toolCallID, "execute_command", start, res)
		}
	}

	spec := RunSpec{
		Image:           e.cfg.CommandImage,
		Command:         splitCommand(cmdline),
		MemoryLimitMB:   limitOr(limits.MemoryLimitMB, parseMemoryLimitMB(e.cfg.MemoryLimitCmd, 128)),
		CPUQuota:        cpuLimitOr(limits.CPULimit, e.cfg.CPULimit),
		NetworkDisabled: orTrue(limits.NetworkDisabled, e.cfg.NetworkDisabled),
		Timeout:         timeoutOr(limits.TimeoutSeconds, e.cfg.Timeout),
	}

	runRes, runErr := e.runtime.Run(ctx, spec)
	res := toolResultFromRun(runRes, runErr)
	if cache == MemoizeByInput && runErr == nil {
		e.storeCache("execute_command", cmdline, res)
	}
	return e.finish(toolCallID, "execute_command", start, res)
}

// rawResult is the pre-envelope outcome of one run, before duration and
// artifact spill are attached.
type rawResult struct {
	success bool
	observation string
	errorKind string
}

func toolResultFromRun(run RunResult, err error) rawResult {
	if err != nil {
		var rtErr *errors.RuntimeError
		kind := errors.KindInternal
		if asRuntimeError(err, &rtErr) {
			kind = rtErr.Kind
		}
		obs := err.Error()
		if run.TimedOut && run.Stdout != "" {
			obs = run.Stdout
		}
		return rawResult{success: false, observation: obs, errorKind: string(kind)}
	}
	obs := run.Stdout
	if run.Stderr != "" {
		obs = obs + "\n--- stderr ---\n" + run.Stderr
	}
	return rawResult{success: run.ExitCode == 0, observation: obs}
}

func asRuntimeError(err error, out **errors.RuntimeError) bool {
	if re, ok := err.(*errors.RuntimeError); ok {
		*out = re
		return true
	}
	return false
}

// finish wraps a raw result into the public envelope, spilling to the
// cache category when the observation is too large to inline.
func (e *Executor) finish(toolCallID, toolName string, start time.Time, res rawResult) types.ToolExecutionResult {
	out := types.ToolExecutionResult{
		ToolCallID:  toolCallID,
		ToolName:    toolName,
		Success:     res.success,
		Observation: res.observation,
		OutputLevel: types.OutputStandard,
		DurationMS:  time.Since(start).Milliseconds(),
		ErrorKind:   res.errorKind,
	}
	if len(res.observation) > spillThresholdBytes && e.store != nil {
		hash := sha256.Sum256([]byte(res.observation))
		ref, err := e.store.Store(types.CategoryCache, []byte(res.observation), filestore.StoreOptions{
			Filename: toolName + "-result.txt",
		})
		if err == nil {
			out.ArtifactID = ref.FileID
			out.DataSizeBytes = int64(len(res.observation))
			out.DataHash = hex.EncodeToString(hash[:])
			out.Observation = fmt.Sprintf("result too large to inline (%d bytes); stored as artifact %s", len(res.observation), ref.FileID)
		}
	}
	return out
}

func (e *Executor) failure(toolCallID, toolName string, start time.Time, err error) types.ToolExecutionResult {
	kind := errors.KindInternal
	var rtErr *errors.RuntimeError
	if asRuntimeError(err, &rtErr) {
		kind = rtErr.Kind
	}
	return types.ToolExecutionResult{
		ToolCallID:  toolCallID,
		ToolName:    toolName,
		Success:     false,
		Observation: err.Error(),
		OutputLevel: types.OutputStandard,
		DurationMS:  time.Since(start).Milliseconds(),
		ErrorKind:   string(kind),
	}
}

// cacheKey hashes the tool name together with its raw input to form the
// memoize_by_input key; the input is not normalised first, so inputs that
// differ only in whitespace get different keys.
func cacheKey(toolName, input string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

type cachedResult struct {
	Success     bool   `json:"success"`
	Observation string `json:"observation"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

func (e *Executor) lookupCache(toolName, input string) (rawResult, bool) {
	if e.store == nil {
		return rawResult{}, false
	}
	key := cacheKey(toolName, input)
	ref := types.FileRef{Category: types.CategoryCache, FileID: key}
	data, err := e.store.Retrieve(ref)
	if err != nil || data == nil {
		return rawResult{}, false
	}
	var cr cachedResult
	if err := json.Unmarshal(data, &cr); err != nil {
		return rawResult{}, false
	}
	return rawResult{success: cr.Success, observation: cr.Observation, errorKind: cr.ErrorKind}, true
}

func (e *Executor) storeCache(toolName, input string, res rawResult) {
	if e.store == nil {
		return
	}
	data, err := json.Marshal(cachedResult{Success: res.success, Observation: res.observation, ErrorKind: res.errorKind})
	if err != nil {
		return
	}
	key := cacheKey(toolName, input)
	if _, err := e.store.Store(types.CategoryCache, data, filestore.StoreOptions{FileID: key}); err != nil {
		e.log.Warn("failed to memoize sandbox result", "tool", toolName, "error", err.Error())
	}
}

func limitOr(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}

func orTrue(v, def bool) bool {
	if v {
		return true
	}
	return def
}

func timeoutOr(seconds int, def time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if def > 0 {
		return def
	}
	return 30 * time.Second
}

// parseMemoryLimitMB parses a Docker-style memory string such as "512m"
// into megabytes, falling back to def when the configured value cannot be
// parsed.
func parseMemoryLimitMB(s string, def int64) int64 {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "b")
	switch {
	case strings.HasSuffix(s, "g"):
		if v, err := strconv.ParseInt(strings.TrimSuffix(s, "g"), 10, 64); err == nil {
			return v * 1024
		}
	case strings.HasSuffix(s, "m"):
		if v, err := strconv.ParseInt(strings.TrimSuffix(s, "m"), 10, 64); err == nil {
			return v
		}
	}
	return def
}

func cpuLimitOr(v float64, defStr string) float64 {
	if v > 0 {
		return v
	}
	if parsed, err := strconv.ParseFloat(defStr, 64); err == nil {
		return parsed
	}
	return 0.5
}
