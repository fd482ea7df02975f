package sandbox

import "time"

// Limits bound one program run. Zero means unlimited for every field.
type Limits struct {
	CPUTimeMs int64 `json:"cpu_time_ms"`
	MemoryKB  int64 `json:"memory_kb"`
	StackKB   int64 `json:"stack_kb"`
	OutputKB  int64 `json:"output_kb"`
	Processes int64 `json:"processes"`
}

// BindMount exposes Source inside the sandbox root at Target.
type BindMount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

// RunSpec describes one program run. IO goes through files inside WorkDir so that
// the helper can redirect it before it drops into the sandbox root. Mounts lists
// extra host paths the program needs, such as a compiled binary outside WorkDir.
type RunSpec struct {
	WorkDir    string      `json:"work_dir"`
	Cmd        []string    `json:"cmd"`
	Env        []string    `json:"env"`
	StdinPath  string      `json:"stdin_path"`
	StdoutPath string      `json:"stdout_path"`
	StderrPath string      `json:"stderr_path"`
	Limits     Limits      `json:"limits"`
	Mounts     []BindMount `json:"mounts,omitempty"`
}

// InitRequest is written as JSON to the sandbox-init helper's stdin. Mounts is the
// complete list the helper binds under RootFS, WorkDir included.
type InitRequest struct {
	RunSpec        RunSpec     `json:"run_spec"`
	EnableNs       bool        `json:"enable_ns"`
	RootFS         string      `json:"rootfs,omitempty"`
	EphemeralRoot  bool        `json:"ephemeral_root,omitempty"`
	Mounts         []BindMount `json:"mounts,omitempty"`
	EnableSeccomp  bool        `json:"enable_seccomp"`
	SeccompProfile string      `json:"seccomp_profile,omitempty"`
}

type RunResult struct {
	ExitCode int
	// TimedOut is set when the run was killed by its deadline or its CPU limit.
	TimedOut bool
	// OutputExceeded is set when the program wrote more than Limits.OutputKB.
	OutputExceeded bool
	WallTime       time.Duration
	Stdout         []byte
	Stderr         []byte
}
