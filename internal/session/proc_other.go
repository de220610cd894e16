//go:build !windows

package session

import "os/exec"

func configureCommand(cmd *exec.Cmd) {}
