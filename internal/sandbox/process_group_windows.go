//go:build windows

package sandbox

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {}

func processGroupOf(pid int) int { return 0 }

func terminateGroup(pgid int, force bool) error {
	return syscall.EWINDOWS
}

func interruptSignal() os.Signal { return os.Kill }
