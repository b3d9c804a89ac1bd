//go:build !linux

package sandbox

import "errors"

// LandlockAvailable reports whether the process may restrict itself
func LandlockAvailable() bool {
	return false
}

// Confine is only supported on Linux
func Confine(workspace string, extraReadOnly []string, bestEffort bool) error {
	if bestEffort {
		return nil
	}
	return errors.New("landlock confinement requires linux")
}
