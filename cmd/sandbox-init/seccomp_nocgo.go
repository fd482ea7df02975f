//go:build linux && !cgo

package main

import "fmt"

func applySeccomp([]byte) error {
	return fmt.Errorf("seccomp requires a cgo build of sandbox-init")
}
