//go:build windows

package session

import (
	"os/exec"
	"syscall"
)

// configureCommand keeps console programs from opening a window.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
