package sandbox_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"duel_arena/internal/judge/sandbox"
)

func TestRunRefusesWithoutIsolation(t *testing.T) {
	e := sandbox.NewEngine(sandbox.Config{})
	if err := e.Ready(); !errors.Is(err, sandbox.ErrNotIsolated) {
		t.Fatalf("Ready = %v, want ErrNotIsolated", err)
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	_, err := e.Run(context.Background(), sandbox.RunSpec{WorkDir: dir, Cmd: []string{"touch", marker}})
	if !errors.Is(err, sandbox.ErrNotIsolated) {
		t.Fatalf("Run = %v, want ErrNotIsolated", err)
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("refused run still executed: %v", err)
	}
}

func TestMissingHelperIsNotIsolation(t *testing.T) {
	e := sandbox.NewEngine(sandbox.Config{HelperPath: filepath.Join(t.TempDir(), "sandbox-init"), EnableNamespaces: true})
	if err := e.Ready(); !errors.Is(err, sandbox.ErrNotIsolated) {
		t.Fatalf("Ready = %v, want ErrNotIsolated", err)
	}
}

func TestUnsandboxedOutputIsCapped(t *testing.T) {
	if _, err := exec.LookPath("yes"); err != nil {
		t.Skip("yes not available")
	}
	e := sandbox.NewEngine(sandbox.Config{AllowUnsandboxed: true})
	dir := t.TempDir()
	out := filepath.Join(dir, "stdout.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.Run(ctx, sandbox.RunSpec{
		WorkDir:    dir,
		Cmd:        []string{"yes"},
		StdoutPath: out,
		Limits:     sandbox.Limits{OutputKB: 4},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OutputExceeded || res.TimedOut {
		t.Fatalf("result = %+v, want output exceeded before the deadline", res)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat stdout: %v", err)
	}
	if info.Size() > 4*1024 {
		t.Fatalf("stdout grew to %d bytes", info.Size())
	}
}

func TestParseMounts(t *testing.T) {
	got, err := sandbox.ParseMounts([]string{"/usr", "/opt/py:/usr/local:ro", "/srv/data:rw"})
	if err != nil {
		t.Fatalf("ParseMounts: %v", err)
	}
	want := []sandbox.BindMount{
		{Source: "/usr", Target: "/usr", ReadOnly: true},
		{Source: "/opt/py", Target: "/usr/local", ReadOnly: true},
		{Source: "/srv/data", Target: "/srv/data", ReadOnly: false},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d mounts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mount %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"usr", "/a:/b:/c", "/a:relative"} {
		if _, err := sandbox.ParseMounts([]string{bad}); err == nil {
			t.Fatalf("ParseMounts(%q) accepted", bad)
		}
	}
}
