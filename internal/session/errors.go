package session

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a process is running.
	ErrAlreadyRunning = errors.New("application is already running")

	// ErrNotRunning is returned by SendInput before the session has started.
	ErrNotRunning = errors.New("there is no running application")

	// ErrSessionExited is returned by Start on a session that has already
	// run to completion. Sessions are single-use.
	ErrSessionExited = errors.New("session has already exited")

	// ErrEmptyPath is returned by Start when no executable was configured.
	ErrEmptyPath = errors.New("executable path is empty")
)
