package judge_test

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/judge"
	"duel_arena/internal/judge/sandbox"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func newJudge(t *testing.T) *judge.Judge {
	t.Helper()
	langs := append(judge.DefaultLanguages(), judge.Language{
		Slug:       "bash-checked",
		Name:       "Bash (syntax checked)",
		SourceFile: "main.sh",
		Compile:    []string{"bash", "-n", "{src}"},
		Run:        []string{"bash", "{src}"},
	})
	return judge.New(judge.Config{
		WorkRoot:    t.TempDir(),
		Parallelism: 4,
		Budget:      10 * time.Second,
		Languages:   langs,
		Sandbox:     sandbox.Config{AllowUnsandboxed: true},
	})
}

func twoSumCases() []model.TestCase {
	return []model.TestCase{
		{Input: json.RawMessage(`{"nums":[2,7,11,15],"target":9}`), ExpectedOutput: json.RawMessage(`[0,1]`)},
		{Input: json.RawMessage(`{"nums":[3,2,4],"target":6}`), ExpectedOutput: json.RawMessage(`[1,2]`)},
	}
}

// Answers by looking the input up, which is enough to exercise the harness.
const twoSumBash = `read -r line
case "$line" in
  *'"target":9'*) echo '[0, 1]' ;;
  *'"target":6'*) echo '[1,2]' ;;
  *) echo '[]' ;;
esac
`

func TestEvaluatePasses(t *testing.T) {
	requireBash(t)
	j := newJudge(t)

	v, err := j.Evaluate(context.Background(), judge.Request{
		Language: "bash", Source: twoSumBash, TestCases: twoSumCases(),
		Comparison: model.ComparisonExact, TimeLimitMs: 2000,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Passed || v.PassedCount() != 2 {
		t.Fatalf("verdict = %+v", v)
	}
	if v.Cases[0].ActualOutput != "[0, 1]" {
		t.Fatalf("actual output = %q", v.Cases[0].ActualOutput)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	requireBash(t)
	j := newJudge(t)
	req := judge.Request{Language: "bash", Source: twoSumBash, TestCases: twoSumCases(), TimeLimitMs: 2000}

	first, err := j.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := j.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i := range first.Cases {
		if first.Cases[i].Passed != second.Cases[i].Passed || first.Cases[i].ActualOutput != second.Cases[i].ActualOutput {
			t.Fatalf("case %d differs: %+v vs %+v", i, first.Cases[i], second.Cases[i])
		}
	}
}

func TestEvaluateFailureKinds(t *testing.T) {
	requireBash(t)
	j := newJudge(t)
	cases := []model.TestCase{{Input: json.RawMessage(`1`), ExpectedOutput: json.RawMessage(`1`)}}

	tests := []struct {
		name   string
		lang   string
		source string
		want   model.CaseErrorKind
	}{
		{"runtime error", "bash", "exit 3", model.CaseRuntimeError},
		{"mismatch", "bash", "echo 2", model.CaseOutputMismatch},
		{"timeout", "bash", "sleep 5", model.CaseTimeoutError},
		{"compile error", "bash-checked", "if then fi (", model.CaseCompileError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := j.Evaluate(context.Background(), judge.Request{
				Language: tt.lang, Source: tt.source, TestCases: cases, TimeLimitMs: 300,
			})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if v.Passed || v.Cases[0].Error != tt.want {
				t.Fatalf("case = %+v, want %s", v.Cases[0], tt.want)
			}
		})
	}
}

func TestCompileErrorMarksEveryCase(t *testing.T) {
	requireBash(t)
	j := newJudge(t)

	v, err := j.Evaluate(context.Background(), judge.Request{
		Language: "bash-checked", Source: "if then fi (", TestCases: twoSumCases(), TimeLimitMs: 1000,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.CompileOutput == "" {
		t.Fatalf("compile output is empty")
	}
	for _, c := range v.Cases {
		if c.Error != model.CaseCompileError {
			t.Fatalf("case %d error = %s", c.CaseIndex, c.Error)
		}
	}
}

func TestSlowCaseDoesNotFailNeighbours(t *testing.T) {
	requireBash(t)
	j := newJudge(t)
	source := `read -r x
if [ "$x" = '"slow"' ]; then sleep 5; fi
echo "$x"
`
	cases := []model.TestCase{
		{Input: json.RawMessage(`"fast"`), ExpectedOutput: json.RawMessage(`"fast"`)},
		{Input: json.RawMessage(`"slow"`), ExpectedOutput: json.RawMessage(`"slow"`)},
		{Input: json.RawMessage(`"also fast"`), ExpectedOutput: json.RawMessage(`"also fast"`)},
	}
	v, err := j.Evaluate(context.Background(), judge.Request{Language: "bash", Source: source, TestCases: cases, TimeLimitMs: 500})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Cases[0].Passed || !v.Cases[2].Passed {
		t.Fatalf("neighbours failed: %+v", v.Cases)
	}
	if v.Cases[1].Error != model.CaseTimeoutError {
		t.Fatalf("slow case = %+v", v.Cases[1])
	}
	if v.Passed {
		t.Fatalf("verdict passed with a timed out case")
	}
}

func TestEvaluateRejectsUnknownLanguage(t *testing.T) {
	j := newJudge(t)
	_, err := j.Evaluate(context.Background(), judge.Request{Language: "cobol", Source: "x"})
	if !errors.Is(err, common.ErrUnsupportedLanguage) {
		t.Fatalf("err = %v, want ErrUnsupportedLanguage", err)
	}
	if j.Supports("cobol") || !j.Supports("Python") {
		t.Fatalf("Supports is wrong")
	}
}

func TestZeroCasesNeverPass(t *testing.T) {
	requireBash(t)
	j := newJudge(t)
	v, err := j.Evaluate(context.Background(), judge.Request{Language: "bash", Source: "echo 1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Passed {
		t.Fatalf("empty verdict passed")
	}
}

func TestEvaluateRefusesWithoutSandbox(t *testing.T) {
	configs := map[string]sandbox.Config{
		"no helper":      {},
		"missing helper": {HelperPath: "/nonexistent/sandbox-init", EnableNamespaces: true},
		"no namespaces":  {HelperPath: "/bin/true"},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			j := judge.New(judge.Config{WorkRoot: t.TempDir(), Sandbox: cfg})
			_, err := j.Evaluate(context.Background(), judge.Request{
				Language: "bash", Source: "echo 1", TestCases: twoSumCases(),
			})
			if !errors.Is(err, common.ErrSandboxUnavailable) || !errors.Is(err, sandbox.ErrNotIsolated) {
				t.Fatalf("err = %v, want a sandbox refusal", err)
			}
		})
	}
}

func TestFloodingOutputIsRuntimeError(t *testing.T) {
	requireBash(t)
	if _, err := exec.LookPath("yes"); err != nil {
		t.Skip("yes not available")
	}
	j := newJudge(t)
	cases := []model.TestCase{{Input: json.RawMessage(`1`), ExpectedOutput: json.RawMessage(`1`)}}

	v, err := j.Evaluate(context.Background(), judge.Request{Language: "bash", Source: "yes", TestCases: cases, TimeLimitMs: 3000})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c := v.Cases[0]; c.Error != model.CaseRuntimeError || !strings.Contains(c.Detail, "output limit") {
		t.Fatalf("case = %+v, want output limit runtime error", c)
	}
}
