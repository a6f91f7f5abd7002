package server

import "errors"

var (
	ErrServer         = errors.New("server error")
	ErrInvalidRequest = errors.New("invalid request")
)
