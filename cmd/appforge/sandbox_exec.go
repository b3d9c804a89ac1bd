package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codefionn/appforge/internal/sandbox"
)

var (
	execWorkspace  string
	execBestEffort bool
)

// sandboxExecCmd confines itself to a workspace and replaces itself with the
// given command. Sandboxes start their processes through it when
// sandbox.confine is set.
var sandboxExecCmd = &cobra.Command{
	Use:    "sandbox-exec --workspace DIR -- COMMAND [ARGS...]",
	Hidden: true,
	Args:   cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if execWorkspace == "" {
			return errors.New("--workspace is required")
		}
		if err := sandbox.Confine(execWorkspace, nil, execBestEffort); err != nil {
			return fmt.Errorf("failed to confine to %s: %w", execWorkspace, err)
		}
		path, err := exec.LookPath(args[0])
		if err != nil {
			return err
		}
		return syscall.Exec(path, args, os.Environ())
	},
}

func init() {
	rootCmd.AddCommand(sandboxExecCmd)
	sandboxExecCmd.Flags().StringVar(&execWorkspace, "workspace", "", "Directory the command may write to")
	sandboxExecCmd.Flags().BoolVar(&execBestEffort, "best-effort", false, "Degrade to the strongest Landlock ABI the kernel supports")
}
