//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the command into its own process group so the whole
// tree (shell plus children such as dev servers) can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func processGroupOf(pid int) int {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0
	}
	return pgid
}

// terminateGroup sends SIGTERM, or SIGKILL when force is set, to the group.
func terminateGroup(pgid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	return syscall.Kill(-pgid, sig)
}

func interruptSignal() syscall.Signal { return syscall.SIGTERM }
