package cli

import (
	"errors"
	"fmt"

	"github.com/emberhq/kilnd/internal/client"
)

var (
	ErrFileExists   = errors.New("file already exists")
	ErrLintFindings = errors.New("recipe has lint findings")
)

// Reports a command outcome that maps to a specific process exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Returns the process exit code for an error returned by [Execute].
//
// A run whose container exited reports the container's status; a daemon
// error that carries an exit code reports that code. Anything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}

	var derr *client.Error
	if errors.As(err, &derr) && derr.ExitCode != 0 {
		return derr.ExitCode
	}
	return 1
}
