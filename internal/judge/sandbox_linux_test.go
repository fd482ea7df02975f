//go:build linux

package judge_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"duel_arena/internal/domain/model"
	"duel_arena/internal/judge"
	"duel_arena/internal/judge/sandbox"
)

// buildSandboxInit compiles the helper without cgo, so seccomp is unavailable but
// every namespace and mount feature is.
func buildSandboxInit(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the sandbox helper")
	}
	gobin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available")
	}
	out := filepath.Join(t.TempDir(), "sandbox-init")
	cmd := exec.Command(gobin, "build", "-o", out, "duel_arena/cmd/sandbox-init")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if msg, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build sandbox-init: %v\n%s", err, msg)
	}
	return out
}

func newSandboxedJudge(t *testing.T) *judge.Judge {
	t.Helper()
	requireBash(t)
	mounts, err := sandbox.ParseMounts(sandbox.DefaultSystemMounts)
	if err != nil {
		t.Fatalf("ParseMounts: %v", err)
	}
	j := judge.New(judge.Config{
		WorkRoot:    t.TempDir(),
		Parallelism: 2,
		Budget:      20 * time.Second,
		Sandbox: sandbox.Config{
			HelperPath:       buildSandboxInit(t),
			EnableNamespaces: true,
			SystemMounts:     mounts,
		},
	})

	v, err := j.Evaluate(context.Background(), judge.Request{
		Language:    "bash",
		Source:      "read -r x\necho \"$x\"\n",
		TestCases:   []model.TestCase{{Input: json.RawMessage(`"hi"`), ExpectedOutput: json.RawMessage(`"hi"`)}},
		TimeLimitMs: 3000,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Passed {
		t.Skipf("host does not allow unprivileged namespaces: %+v", v.Cases[0])
	}
	return j
}

func TestSandboxedCaseCannotReachHostFiles(t *testing.T) {
	j := newSandboxedJudge(t)

	hostDir := t.TempDir()
	secret := filepath.Join(hostDir, "secret.txt")
	if err := os.WriteFile(secret, []byte("host-secret"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	planted := filepath.Join(hostDir, "planted.txt")
	source := "cat " + secret + "\necho planted > " + planted + "\n"

	v, err := j.Evaluate(context.Background(), judge.Request{
		Language:    "bash",
		Source:      source,
		TestCases:   []model.TestCase{{Input: json.RawMessage(`0`), ExpectedOutput: json.RawMessage(`"host-secret"`)}},
		TimeLimitMs: 3000,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	c := v.Cases[0]
	if c.Passed || (c.Error != model.CaseRuntimeError && c.Error != model.CaseOutputMismatch) {
		t.Fatalf("case = %+v, want runtime error or mismatch", c)
	}
	if strings.Contains(c.ActualOutput, "host-secret") {
		t.Fatalf("sandboxed program read a host file: %q", c.ActualOutput)
	}
	if _, err := os.Stat(planted); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("sandboxed program wrote outside its directory: %v", err)
	}
}

func TestSandboxedCaseHasNoNetwork(t *testing.T) {
	j := newSandboxedJudge(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	source := "exec 3<>/dev/tcp/127.0.0.1/" + strconv.Itoa(port) + " && echo '\"connected\"'\n"
	v, err := j.Evaluate(context.Background(), judge.Request{
		Language:    "bash",
		Source:      source,
		TestCases:   []model.TestCase{{Input: json.RawMessage(`0`), ExpectedOutput: json.RawMessage(`"connected"`)}},
		TimeLimitMs: 3000,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Passed {
		t.Fatalf("sandboxed program reached the host network")
	}
	time.Sleep(50 * time.Millisecond)
	if n := accepted.Load(); n != 0 {
		t.Fatalf("listener accepted %d connections from the sandbox", n)
	}
}
