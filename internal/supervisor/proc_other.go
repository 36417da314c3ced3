//go:build !unix

// ABOUTME: Process handling for platforms without process groups or SIGTERM
// ABOUTME: Termination falls back to an immediate kill

package supervisor

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
