package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"duel_arena/internal/platform/logger"

	"go.uber.org/zap"
)

const (
	defaultOutputLimit int64 = 64 * 1024
	defaultPath              = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// ErrNotIsolated is returned by Run when the engine cannot confine programs and
// unsandboxed runs were not allowed.
var ErrNotIsolated = errors.New("sandbox isolation is not available")

type Config struct {
	// HelperPath is the sandbox-init binary, absolute or looked up in PATH.
	HelperPath       string
	EnableNamespaces bool
	// RootFS is a prepared root directory. When empty every run gets a fresh tmpfs
	// root holding only SystemMounts, the run's Mounts and its WorkDir.
	RootFS         string
	SystemMounts   []BindMount
	EnableSeccomp  bool
	SeccompProfile string
	// OutputLimit caps how much stdout and stderr is read back, in bytes.
	OutputLimit int64
	// AllowUnsandboxed lets programs run as plain child processes of the server when
	// the helper or namespaces are unavailable. Development only.
	AllowUnsandboxed bool
}

type Engine struct {
	cfg    Config
	helper string
	// refusal is why the engine cannot isolate runs; nil when it can.
	refusal error
}

func NewEngine(cfg Config) *Engine {
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaultOutputLimit
	}
	e := &Engine{cfg: cfg}
	switch {
	case cfg.HelperPath == "":
		e.refusal = fmt.Errorf("no sandbox helper configured: %w", ErrNotIsolated)
	case !cfg.EnableNamespaces:
		e.refusal = fmt.Errorf("namespaces disabled: %w", ErrNotIsolated)
	default:
		path, err := exec.LookPath(cfg.HelperPath)
		if err != nil {
			e.refusal = fmt.Errorf("sandbox helper %q: %w: %w", cfg.HelperPath, ErrNotIsolated, err)
		} else {
			e.helper = path
		}
	}

	ctx := context.Background()
	switch {
	case e.refusal == nil:
		logger.Info(ctx, "judge sandbox ready", zap.String("helper", e.helper), zap.String("rootfs", cfg.RootFS))
	case cfg.AllowUnsandboxed:
		logger.Warn(ctx, "JUDGE SANDBOX DISABLED: submissions run with the server's filesystem and network access",
			zap.Error(e.refusal))
	default:
		logger.Error(ctx, "judge sandbox unavailable; submissions will be refused", zap.Error(e.refusal))
	}
	return e
}

// Ready reports whether Run will execute programs.
func (e *Engine) Ready() error {
	if e.refusal != nil && !e.cfg.AllowUnsandboxed {
		return e.refusal
	}
	return nil
}

// Run executes spec and waits for it. The run is killed, with its whole process group,
// when ctx is done. An error is returned only when the run could not be started.
func (e *Engine) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	if len(spec.Cmd) == 0 {
		return RunResult{}, fmt.Errorf("command is required")
	}
	if spec.WorkDir == "" {
		return RunResult{}, fmt.Errorf("work dir is required")
	}
	if err := e.Ready(); err != nil {
		return RunResult{}, err
	}

	var (
		cmd     *exec.Cmd
		closers []io.Closer
		outputs []*cappedWriter
	)
	if e.refusal == nil {
		req, cleanup, err := e.initRequest(spec)
		if err != nil {
			return RunResult{}, err
		}
		defer cleanup()
		payload, err := json.Marshal(req)
		if err != nil {
			return RunResult{}, fmt.Errorf("encode init request: %w", err)
		}
		cmd = exec.CommandContext(ctx, e.helper)
		cmd.Stdin = bytes.NewReader(payload)
		cmd.SysProcAttr = buildSysProcAttr(true)
	} else {
		cmd = exec.CommandContext(ctx, spec.Cmd[0], spec.Cmd[1:]...)
		cmd.Dir = spec.WorkDir
		cmd.Env = spec.Env
		if len(cmd.Env) == 0 {
			cmd.Env = []string{defaultPath}
		}
		cmd.SysProcAttr = buildSysProcAttr(false)
		files, capped, err := openStdio(cmd, spec)
		if err != nil {
			return RunResult{}, err
		}
		closers, outputs = files, capped
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	var helperStderr bytes.Buffer
	if e.refusal == nil {
		cmd.Stderr = &helperStderr
	}
	cmd.Cancel = func() error {
		killProcessGroup(cmd.Process.Pid)
		return nil
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	waitErr := cmd.Wait()
	wall := time.Since(start)

	res := RunResult{
		ExitCode:       exitCode(waitErr, cmd.ProcessState),
		WallTime:       wall,
		TimedOut:       errors.Is(ctx.Err(), context.DeadlineExceeded) || cpuLimitHit(cmd.ProcessState),
		OutputExceeded: outputLimitHit(cmd.ProcessState),
		Stdout:         readLimited(spec.StdoutPath, e.cfg.OutputLimit),
		Stderr:         readLimited(spec.StderrPath, e.cfg.OutputLimit),
	}
	for _, w := range outputs {
		res.OutputExceeded = res.OutputExceeded || w.exceeded
	}
	if (res.TimedOut || res.OutputExceeded) && res.ExitCode == 0 {
		res.ExitCode = -1
	}
	if waitErr != nil && helperStderr.Len() > 0 {
		logger.Warn(ctx, "sandbox helper failed", zap.String("stderr", helperStderr.String()))
	}
	return res, nil
}

// initRequest builds the helper request. Without a configured root a sibling of
// WorkDir serves as the mount point for the run's tmpfs root; cleanup removes it.
func (e *Engine) initRequest(spec RunSpec) (InitRequest, func(), error) {
	req := InitRequest{
		RunSpec:        spec,
		EnableNs:       true,
		RootFS:         e.cfg.RootFS,
		EnableSeccomp:  e.cfg.EnableSeccomp,
		SeccompProfile: e.cfg.SeccompProfile,
	}
	req.Mounts = append(req.Mounts, existing(e.cfg.SystemMounts)...)
	req.Mounts = append(req.Mounts, spec.Mounts...)
	// Last, so it is not shadowed by a broader mount.
	req.Mounts = append(req.Mounts, BindMount{Source: spec.WorkDir, Target: spec.WorkDir})

	cleanup := func() {}
	if req.RootFS == "" {
		root := spec.WorkDir + ".root"
		if err := os.Mkdir(root, 0o755); err != nil {
			return InitRequest{}, nil, fmt.Errorf("create sandbox root: %w", err)
		}
		req.RootFS, req.EphemeralRoot = root, true
		cleanup = func() { _ = os.Remove(root) }
	}
	return req, cleanup, nil
}

// cappedWriter stops accepting output past its limit. The copy goroutine in os/exec
// then closes the pipe and the program dies of SIGPIPE on its next write.
type cappedWriter struct {
	f        *os.File
	left     int64
	exceeded bool
}

var errOutputLimit = errors.New("output limit exceeded")

func (w *cappedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > w.left {
		n, _ := w.f.Write(p[:w.left])
		w.left = 0
		w.exceeded = true
		return n, errOutputLimit
	}
	n, err := w.f.Write(p)
	w.left -= int64(n)
	return n, err
}

func openStdio(cmd *exec.Cmd, spec RunSpec) ([]io.Closer, []*cappedWriter, error) {
	var closers []io.Closer
	open := func(path string, flag int) (*os.File, error) {
		if path == "" {
			path = os.DevNull
		}
		f, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		closers = append(closers, f)
		return f, nil
	}
	fail := func(err error) ([]io.Closer, []*cappedWriter, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, nil, err
	}

	stdin, err := open(spec.StdinPath, os.O_RDONLY)
	if err != nil {
		return fail(err)
	}
	stdout, err := open(spec.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return fail(err)
	}
	stderr, err := open(spec.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return fail(err)
	}
	cmd.Stdin = stdin
	if spec.Limits.OutputKB <= 0 {
		cmd.Stdout, cmd.Stderr = stdout, stderr
		return closers, nil, nil
	}
	limit := spec.Limits.OutputKB * 1024
	capped := []*cappedWriter{{f: stdout, left: limit}, {f: stderr, left: limit}}
	cmd.Stdout, cmd.Stderr = capped[0], capped[1]
	return closers, capped, nil
}

func exitCode(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func readLimited(path string, limit int64) []byte {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	data, _ := io.ReadAll(io.LimitReader(f, limit))
	return data
}
