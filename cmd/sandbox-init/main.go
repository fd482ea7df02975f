//go:build linux

// Command sandbox-init is re-executed by the judge for every program run inside fresh
// user, mount, pid, network, ipc and uts namespaces. It reads an init request on
// stdin, builds the run's root from bind mounts, chroots into it, applies limits and
// then execs the program in its place.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"duel_arena/internal/judge/sandbox"

	"golang.org/x/sys/unix"
)

const ephemeralRootSize = "size=16m,mode=0755"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	spec := req.RunSpec
	if len(spec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if spec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}

	if !req.EnableNs {
		if req.RootFS != "" || len(req.Mounts) > 0 {
			return fmt.Errorf("namespaces disabled with rootfs or bind mounts")
		}
	} else {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mount private: %w", err)
		}
		if req.RootFS != "" {
			if err := buildRoot(req); err != nil {
				return err
			}
		}
	}

	// Read while the host filesystem is still visible.
	var seccompProfile []byte
	if req.EnableSeccomp && req.SeccompProfile != "" {
		if seccompProfile, err = os.ReadFile(req.SeccompProfile); err != nil {
			return fmt.Errorf("read seccomp profile: %w", err)
		}
	}
	if err := redirectIO(spec); err != nil {
		return err
	}

	if req.RootFS != "" {
		if err := unix.Chroot(req.RootFS); err != nil {
			return fmt.Errorf("chroot: %w", err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("chdir root: %w", err)
		}
	}
	if err := os.Chdir(spec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}

	env := spec.Env
	if len(env) == 0 {
		env = []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	}
	os.Clearenv()
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set env: %w", err)
		}
	}
	cmdPath, err := exec.LookPath(spec.Cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	if err := applyRlimits(spec.Limits); err != nil {
		return err
	}
	if seccompProfile != nil {
		if err := applySeccomp(seccompProfile); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, spec.Cmd, env)
}

func decodeRequest(r io.Reader) (sandbox.InitRequest, error) {
	var req sandbox.InitRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return sandbox.InitRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// buildRoot mounts everything the run may see under req.RootFS. An ephemeral root is
// a tmpfs that is made read-only once populated.
func buildRoot(req sandbox.InitRequest) error {
	root := req.RootFS
	if req.EphemeralRoot {
		if err := unix.Mount("tmpfs", root, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, ephemeralRootSize); err != nil {
			return fmt.Errorf("mount root tmpfs: %w", err)
		}
	}
	if err := applyBindMounts(root, req.Mounts); err != nil {
		return err
	}
	if err := mountProc(root); err != nil {
		return err
	}
	if req.EphemeralRoot {
		if err := unix.Mount("tmpfs", root, "tmpfs", unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_NOSUID|unix.MS_NODEV, ephemeralRootSize); err != nil {
			return fmt.Errorf("remount root readonly: %w", err)
		}
	}
	return nil
}

func applyBindMounts(root string, mounts []sandbox.BindMount) error {
	for _, m := range mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("invalid mount spec")
		}
		target := filepath.Join(root, m.Target)
		if err := ensureMountTarget(m.Source, target); err != nil {
			return err
		}
		if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind mount %s: %w", m.Source, err)
		}
		if m.ReadOnly {
			if err := remountReadOnly(target); err != nil {
				return err
			}
		}
	}
	return nil
}

// remountReadOnly keeps the flags the kernel locks on mounts inherited from the host;
// dropping any of them makes the remount fail with EPERM in a user namespace.
func remountReadOnly(target string) error {
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err == nil {
		for _, f := range []struct{ st, ms int64 }{
			{unix.ST_NOSUID, unix.MS_NOSUID},
			{unix.ST_NODEV, unix.MS_NODEV},
			{unix.ST_NOEXEC, unix.MS_NOEXEC},
			{unix.ST_NOATIME, unix.MS_NOATIME},
			{unix.ST_NODIRATIME, unix.MS_NODIRATIME},
			{unix.ST_RELATIME, unix.MS_RELATIME},
		} {
			if int64(st.Flags)&f.st != 0 {
				flags |= uintptr(f.ms)
			}
		}
	}
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		return fmt.Errorf("remount %s readonly: %w", target, err)
	}
	return nil
}

// mountProc gives the run a /proc for its own pid namespace. Hosts that mask parts of
// their /proc, such as container runtimes, refuse the mount; the run goes without.
func mountProc(root string) error {
	procPath := filepath.Join(root, "proc")
	if err := os.MkdirAll(procPath, 0o755); err != nil {
		return fmt.Errorf("mkdir proc: %w", err)
	}
	err := unix.Mount("proc", procPath, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "")
	if err == nil || errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EPERM) {
		return nil
	}
	return fmt.Errorf("mount proc: %w", err)
}

func ensureMountTarget(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return f.Close()
}

func setLimit(resource int, value uint64, name string) error {
	if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value}); err != nil {
		return fmt.Errorf("set rlimit %s: %w", name, err)
	}
	return nil
}

func applyRlimits(l sandbox.Limits) error {
	if l.CPUTimeMs > 0 {
		if err := setLimit(unix.RLIMIT_CPU, uint64((l.CPUTimeMs+999)/1000), "cpu"); err != nil {
			return err
		}
	}
	if l.MemoryKB > 0 {
		if err := setLimit(unix.RLIMIT_AS, uint64(l.MemoryKB)*1024, "as"); err != nil {
			return err
		}
	}
	if l.StackKB > 0 {
		if err := setLimit(unix.RLIMIT_STACK, uint64(l.StackKB)*1024, "stack"); err != nil {
			return err
		}
	}
	if l.OutputKB > 0 {
		if err := setLimit(unix.RLIMIT_FSIZE, uint64(l.OutputKB)*1024, "fsize"); err != nil {
			return err
		}
	}
	if l.Processes > 0 {
		if err := setLimit(unix.RLIMIT_NPROC, uint64(l.Processes), "nproc"); err != nil {
			return err
		}
	}
	return nil
}

func redirectIO(spec sandbox.RunSpec) error {
	orNull := func(p string) string {
		if p == "" {
			return os.DevNull
		}
		return p
	}
	stdin, err := os.Open(orNull(spec.StdinPath))
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := os.OpenFile(orNull(spec.StdoutPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	stderr, err := os.OpenFile(orNull(spec.StderrPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open stderr: %w", err)
	}
	for _, pair := range []struct {
		from *os.File
		to   int
	}{{stdin, 0}, {stdout, 1}, {stderr, 2}} {
		if err := unix.Dup2(int(pair.from.Fd()), pair.to); err != nil {
			return fmt.Errorf("dup fd %d: %w", pair.to, err)
		}
		_ = pair.from.Close()
	}
	return nil
}
