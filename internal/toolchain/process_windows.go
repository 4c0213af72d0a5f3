//go:build windows

package toolchain

import "os/exec"

// killProcessGroup keeps the exec default of killing the direct child.
func killProcessGroup(cmd *exec.Cmd) {}

func exitCode(exitErr *exec.ExitError) int {
	return exitErr.ExitCode()
}
