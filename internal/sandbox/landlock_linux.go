//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/codefionn/appforge/internal/logger"
	landlock "github.com/landlock-lsm/go-landlock/landlock"
)

// systemReadOnlyPaths are needed to run interpreters and package managers
var systemReadOnlyPaths = []string{
	"/usr",
	"/bin",
	"/lib",
	"/lib64",
	"/etc",
	"/sbin",
	"/opt",
	"/usr/local",
	"/run/current-system/sw", // NixOS
	"/nix/store",
	"/proc",
}

// writableScratchPaths are shared scratch locations tools expect to write
var writableScratchPaths = []string{
	"/tmp",
	"/dev",
}

// homeCacheDirs are package manager caches below $HOME kept writable
var homeCacheDirs = []string{
	".npm",
	".cache",
	".yarn",
	".local/share/pnpm",
	".bun",
	".deno",
	"go/pkg/mod",
}

// LandlockAvailable reports whether the process may restrict itself
func LandlockAvailable() bool {
	return true
}

// Confine restricts the current process, and everything it executes, to
// read-write access on workspace plus read-only access to system paths.
// It is irreversible and meant for the sandbox-exec helper process only.
func Confine(workspace string, extraReadOnly []string, bestEffort bool) error {
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	var rules []landlock.Rule
	addRule := func(p string, rw bool) {
		info, err := os.Stat(p)
		if err != nil {
			return
		}
		switch {
		case info.IsDir() && rw:
			rules = append(rules, landlock.RWDirs(p))
		case info.IsDir():
			rules = append(rules, landlock.RODirs(p))
		case rw:
			rules = append(rules, landlock.RWFiles(p))
		default:
			rules = append(rules, landlock.ROFiles(p))
		}
	}

	addRule(absWorkspace, true)
	for _, p := range systemReadOnlyPaths {
		addRule(p, false)
	}
	for _, p := range extraReadOnly {
		addRule(p, false)
	}
	for _, p := range writableScratchPaths {
		addRule(p, true)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		for _, sub := range homeCacheDirs {
			addRule(filepath.Join(home, sub), true)
		}
	}

	if bestEffort {
		err = landlock.V6.BestEffort().RestrictPaths(rules...)
	} else {
		err = landlock.V6.RestrictPaths(rules...)
	}
	if err != nil {
		return fmt.Errorf("landlock restriction failed: %w", err)
	}
	logger.Debug("sandbox: landlock confined to %s (%d rules)", absWorkspace, len(rules))
	return nil
}
