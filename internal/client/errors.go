package client

import "errors"

var (
	ErrUnavailable = errors.New("daemon is not running")
	ErrConnection  = errors.New("daemon connection failed")
)

// A failure reported by the daemon.
type Error struct {
	Message  string
	ExitCode int // Exit code the command produced, when it has one.
}

func (e *Error) Error() string {
	return e.Message
}
