//go:build !linux

package sandbox

import (
	"os"
	"syscall"
)

// Namespaces and process groups are Linux only; elsewhere runs are plain child processes.
func buildSysProcAttr(bool) *syscall.SysProcAttr {
	return nil
}

func killProcessGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func cpuLimitHit(*os.ProcessState) bool {
	return false
}

func outputLimitHit(*os.ProcessState) bool {
	return false
}
