package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

// compileTimeout bounds the C++ compile phase independently of the task limit.
const compileTimeout = 10 * time.Second

// NsjailRuntime runs code inside an nsjail sandbox.
type NsjailRuntime struct {
	nsjailPath string
	configDir  string
	cgroupRoot string
	logger     *zap.Logger
}

// NewNsjailRuntime creates a new nsjail runtime. cgroupRoot is a delegated
// cgroup v2 directory under which each run gets its own child; when empty,
// peak memory is not reported.
func NewNsjailRuntime(nsjailPath, configDir, cgroupRoot string, logger *zap.Logger) *NsjailRuntime {
	return &NsjailRuntime{
		nsjailPath: nsjailPath,
		configDir:  configDir,
		cgroupRoot: cgroupRoot,
		logger:     logger,
	}
}

// Run writes the source into an ephemeral work dir and executes it under nsjail.
func (r *NsjailRuntime) Run(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	if !req.Language.IsValid() {
		return nil, fmt.Errorf("nsjail: %w: %s", ErrUnsupportedLanguage, req.Language)
	}

	workDir, err := os.MkdirTemp("", fmt.Sprintf("codesandbox-%s-*", req.TaskID.String()))
	if err != nil {
		return nil, fmt.Errorf("nsjail: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	switch req.Language {
	case domain.LangPython:
		if err := writeSource(workDir, "code.py", req.Code); err != nil {
			return nil, err
		}
		return r.runNsjail(ctx, req, "python.cfg", workDir, req.Limits.TimeLimit,
			"/usr/bin/python3", "/tmp/work/code.py")
	case domain.LangJavaScript:
		if err := writeSource(workDir, "code.js", req.Code); err != nil {
			return nil, err
		}
		return r.runNsjail(ctx, req, "javascript.cfg", workDir, req.Limits.TimeLimit,
			"/usr/bin/node", "/tmp/work/code.js")
	default:
		return r.runCpp(ctx, req, workDir)
	}
}

func (r *NsjailRuntime) runCpp(ctx context.Context, req *domain.ExecutionRequest, workDir string) (*domain.ExecutionResult, error) {
	if err := writeSource(workDir, "code.cpp", req.Code); err != nil {
		return nil, err
	}

	compiled, err := r.runNsjail(ctx, req, "cpp.cfg", workDir, compileTimeout,
		"/usr/bin/g++", "-std=c++17", "-O2", "-o", "/tmp/work/program", "/tmp/work/code.cpp")
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if compiled.ExitCode != 0 || compiled.TimedOut || compiled.OOMKilled {
		return compiled, nil
	}

	return r.runNsjail(ctx, req, "cpp.cfg", workDir, req.Limits.TimeLimit, "/tmp/work/program")
}

func (r *NsjailRuntime) runNsjail(
	ctx context.Context,
	req *domain.ExecutionRequest,
	configName, workDir string,
	limit time.Duration,
	execArgs ...string,
) (*domain.ExecutionResult, error) {
	cg, err := newTaskCgroup(r.cgroupRoot, "codesandbox-"+req.TaskID.String())
	if err != nil {
		return nil, fmt.Errorf("nsjail: %w", err)
	}
	defer func() {
		if err := cg.Release(); err != nil {
			r.logger.Warn("failed to remove task cgroup", zap.String("cgroup", cg.Dir()), zap.Error(err))
		}
	}()

	args := nsjailArgs(filepath.Join(r.configDir, configName), workDir, cg.Dir(), limit, req.Limits.MemoryLimitKB)
	args = append(args, execArgs...)

	timeoutCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, r.nsjailPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole process group, not just nsjail.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
	cmd.Stdin = strings.NewReader(req.Input)

	stdout := newCappedOutput(maxOutputBytes)
	stderr := newCappedOutput(maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	progStderr, nsjailLog := splitJailLog(stderr.String())

	result := &domain.ExecutionResult{
		Stdout:       stdout.String(),
		Stderr:       progStderr,
		Duration:     elapsed,
		PeakMemoryKB: cg.PeakKB(),
	}

	r.logger.Debug("nsjail execution completed",
		zap.String("task_id", req.TaskID.String()),
		zap.Duration("elapsed", elapsed),
		zap.Int64("peak_memory_kb", result.PeakMemoryKB),
		zap.String("nsjail_log", nsjailLog),
	)

	// The caller's cancellation wins over our own deadline.
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("nsjail: %w", context.Cause(ctx))
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("nsjail: run: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
		result.OOMKilled = killedByOOM(result.ExitCode, nsjailLog)
	}
	return result, nil
}

// nsjailArgs builds the nsjail flags preceding the program argv. nsjail's own
// time limit is whole seconds and rounded up so the host-side deadline fires first.
func nsjailArgs(configPath, workDir, cgroupDir string, limit time.Duration, memoryLimitKB int) []string {
	args := []string{
		"--config", configPath,
		"--bindmount", workDir + ":/tmp/work",
		"--time_limit", strconv.FormatInt(int64(limit/time.Second)+1, 10),
		"--cgroup_mem_max", strconv.FormatInt(int64(memoryLimitKB)*1024, 10),
	}
	if cgroupDir != "" {
		args = append(args, "--cgroupv2_mount", cgroupDir)
	}
	return append(args, "--")
}

func writeSource(workDir, name, code string) error {
	if err := os.WriteFile(filepath.Join(workDir, name), []byte(code), 0o644); err != nil {
		return fmt.Errorf("nsjail: write source: %w", err)
	}
	return nil
}
