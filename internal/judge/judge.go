// Package judge runs untrusted submissions against a problem's test cases.
package judge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/judge/sandbox"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeLimit      = 2 * time.Second
	defaultCompileTimeout = 10 * time.Second
	maxDetailBytes        = 2048
)

// Request is everything needed to judge one submission.
type Request struct {
	SubmissionID  string               `json:"submission_id"`
	Language      string               `json:"language"`
	Source        string               `json:"source"`
	TestCases     []model.TestCase     `json:"test_cases"`
	Comparison    model.ComparisonMode `json:"comparison"`
	TimeLimitMs   int                  `json:"time_limit_ms"`
	MemoryLimitKb int                  `json:"memory_limit_kb"`
}

type Config struct {
	// WorkRoot holds per-evaluation scratch directories; empty means os.TempDir.
	WorkRoot string
	// Parallelism bounds how many cases of one submission run at once.
	Parallelism int
	// Budget is the wall clock allowance for all cases of one submission.
	Budget         time.Duration
	CompileTimeout time.Duration
	Sandbox        sandbox.Config
	// Languages overrides DefaultLanguages when set.
	Languages []Language
}

type Judge struct {
	cfg    Config
	langs  registry
	engine *sandbox.Engine
}

func New(cfg Config) *Judge {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	return &Judge{
		cfg:    cfg,
		langs:  newRegistry(cfg.Languages),
		engine: sandbox.NewEngine(cfg.Sandbox),
	}
}

func (j *Judge) Supports(language string) bool {
	_, ok := j.langs.lookup(language)
	return ok
}

func (j *Judge) Languages() []model.Language {
	return j.langs.list()
}

// Evaluate builds the source once and runs every case in its own directory. Case
// failures are recorded in the verdict; an error means the submission could not be
// judged at all.
func (j *Judge) Evaluate(ctx context.Context, req Request) (*model.Verdict, error) {
	lang, ok := j.langs.lookup(req.Language)
	if !ok {
		return nil, fmt.Errorf("language %q: %w", req.Language, common.ErrUnsupportedLanguage)
	}
	if err := j.engine.Ready(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrSandboxUnavailable, err)
	}

	scratch, err := os.MkdirTemp(j.cfg.WorkRoot, "eval-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	src := filepath.Join(scratch, lang.SourceFile)
	bin := filepath.Join(scratch, "main.bin")
	if err := os.WriteFile(src, []byte(req.Source), 0o644); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	verdict := &model.Verdict{SubmissionID: req.SubmissionID, Cases: make([]model.CaseOutcome, len(req.TestCases))}
	if len(lang.Compile) > 0 {
		if out, ok := j.compile(ctx, scratch, expand(lang.Compile, src, bin)); !ok {
			verdict.CompileOutput = out
			for i := range verdict.Cases {
				verdict.Cases[i] = model.CaseOutcome{CaseIndex: i, Error: model.CaseCompileError, Detail: "compilation failed"}
			}
			verdict.Settle()
			return verdict, nil
		}
	}

	timeLimit := time.Duration(req.TimeLimitMs) * time.Millisecond
	if timeLimit <= 0 {
		timeLimit = defaultTimeLimit
	}
	budget := j.cfg.Budget
	if budget <= 0 {
		budget = timeLimit * time.Duration(len(req.TestCases)+1)
	}
	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	run := expand(lang.Run, src, bin)
	artifacts := []sandbox.BindMount{{Source: src, Target: src, ReadOnly: true}}
	if len(lang.Compile) > 0 {
		artifacts = append(artifacts, sandbox.BindMount{Source: bin, Target: bin, ReadOnly: true})
	}
	var g errgroup.Group
	g.SetLimit(j.cfg.Parallelism)
	for i, tc := range req.TestCases {
		g.Go(func() error {
			verdict.Cases[i] = j.runCase(budgetCtx, scratch, i, tc, run, artifacts, timeLimit, req)
			metrics.JudgeCaseDuration.WithLabelValues(lang.Slug, caseLabel(verdict.Cases[i])).
				Observe(float64(verdict.Cases[i].DurationMs) / 1000)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return nil, err
	}
	verdict.Settle()
	return verdict, nil
}

func (j *Judge) compile(ctx context.Context, dir string, cmd []string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.CompileTimeout)
	defer cancel()

	spec := sandbox.RunSpec{
		WorkDir:    dir,
		Cmd:        cmd,
		Env:        caseEnv(dir),
		StdoutPath: filepath.Join(dir, "compile.out"),
		StderrPath: filepath.Join(dir, "compile.err"),
	}
	res, err := j.engine.Run(ctx, spec)
	if err != nil {
		return err.Error(), false
	}
	if res.TimedOut {
		return "compilation timed out", false
	}
	if res.ExitCode != 0 {
		return truncate(string(res.Stderr) + string(res.Stdout)), false
	}
	return "", true
}

// runCase sees only its own directory and the built artifacts, never the scratch
// directories of the other cases.
func (j *Judge) runCase(ctx context.Context, scratch string, idx int, tc model.TestCase, cmd []string, artifacts []sandbox.BindMount, limit time.Duration, req Request) model.CaseOutcome {
	out := model.CaseOutcome{CaseIndex: idx}
	if ctx.Err() != nil {
		out.Error = model.CaseTimeoutError
		out.Detail = "evaluation budget exhausted before the case started"
		return out
	}

	dir := filepath.Join(scratch, fmt.Sprintf("case-%d", idx))
	if err := os.Mkdir(dir, 0o755); err != nil {
		out.Error = model.CaseRuntimeError
		out.Detail = "prepare case dir: " + err.Error()
		return out
	}
	input := filepath.Join(dir, "input.json")
	if err := os.WriteFile(input, tc.Input, 0o644); err != nil {
		out.Error = model.CaseRuntimeError
		out.Detail = "write input: " + err.Error()
		return out
	}

	caseCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	spec := sandbox.RunSpec{
		WorkDir:    dir,
		Cmd:        cmd,
		Env:        caseEnv(dir),
		StdinPath:  input,
		StdoutPath: filepath.Join(dir, "stdout.txt"),
		StderrPath: filepath.Join(dir, "stderr.txt"),
		Limits: sandbox.Limits{
			CPUTimeMs: limit.Milliseconds(),
			MemoryKB:  int64(req.MemoryLimitKb),
			StackKB:   64 * 1024,
			OutputKB:  1024,
			Processes: 64,
		},
		Mounts: artifacts,
	}
	res, err := j.engine.Run(caseCtx, spec)
	out.DurationMs = res.WallTime.Milliseconds()
	out.ActualOutput = truncate(strings.TrimSpace(string(res.Stdout)))
	switch {
	case err != nil && caseCtx.Err() != nil:
		out.Error = model.CaseTimeoutError
		out.Detail = "time limit exceeded"
	case err != nil:
		out.Error = model.CaseRuntimeError
		out.Detail = err.Error()
	case res.TimedOut:
		out.Error = model.CaseTimeoutError
		out.Detail = fmt.Sprintf("time limit of %dms exceeded", limit.Milliseconds())
	case res.OutputExceeded:
		out.Error = model.CaseRuntimeError
		out.Detail = fmt.Sprintf("output limit of %dKB exceeded", spec.Limits.OutputKB)
	case res.ExitCode != 0:
		out.Error = model.CaseRuntimeError
		out.Detail = truncate(fmt.Sprintf("exit code %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr))))
	case !Equal(req.Comparison, tc.ExpectedOutput, res.Stdout):
		out.Error = model.CaseOutputMismatch
		if !tc.Hidden {
			out.Detail = "expected " + truncate(string(tc.ExpectedOutput))
		}
	default:
		out.Passed = true
	}
	return out
}

// caseEnv keeps HOME and temporary files inside the run's own directory, the only
// writable place in the sandbox root.
func caseEnv(dir string) []string {
	return []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + dir, "TMPDIR=" + dir}
}

func caseLabel(c model.CaseOutcome) string {
	if c.Passed {
		return "passed"
	}
	return string(c.Error)
}

func truncate(s string) string {
	if len(s) <= maxDetailBytes {
		return s
	}
	return s[:maxDetailBytes] + "..."
}
