package sandbox

import (
	"errors"
	"fmt"
)

// SessionCreateError is returned when a sandbox session cannot be created.
type SessionCreateError struct {
	Name      string
	Err       error
	Transient bool
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("failed to create sandbox session %s: %v", e.Name, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// DependencyInstallError is returned when installing dependencies into a
// session fails. InstallLog carries the captured installer output.
type DependencyInstallError struct {
	Name       string
	InstallLog string
	Err        error
	Transient  bool
}

func (e *DependencyInstallError) Error() string {
	return fmt.Sprintf("failed to install dependencies in session %s: %v", e.Name, e.Err)
}

func (e *DependencyInstallError) Unwrap() error { return e.Err }

// ExecutionError is returned when a script exits non-zero. It carries the
// captured output so the failure can be reported without re-running.
type ExecutionError struct {
	Name     string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("script in session %s exited with code %d", e.Name, e.ExitCode)
}

// IsTransient reports whether err is a sandbox failure caused by the
// transport layer and therefore worth retrying. Tool-level failures
// (non-zero exits, name collisions reported by the remote) are not transient.
func IsTransient(err error) bool {
	var ce *SessionCreateError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	var de *DependencyInstallError
	if errors.As(err, &de) {
		return de.Transient
	}
	return false
}
