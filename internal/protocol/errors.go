package protocol

import "errors"

var (
	ErrProtocol       = errors.New("protocol error")
	ErrMissingCommand = errors.New("envelope has no command")
)
