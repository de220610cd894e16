package cmd

import (
	"errors"
	"fmt"
)

// SilentExitError ends the process with Code without printing anything.
type SilentExitError struct {
	Code int
}

func (e *SilentExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewSilentExit returns an error that makes Execute return code.
func NewSilentExit(code int) error {
	return &SilentExitError{Code: code}
}

// IsSilentExit reports whether err carries an exit code.
func IsSilentExit(err error) (int, bool) {
	var se *SilentExitError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
