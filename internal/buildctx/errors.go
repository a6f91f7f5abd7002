package buildctx

import "errors"

var (
	ErrContext        = errors.New("build context error")
	ErrMissingFile    = errors.New("file not found in build context")
	ErrOutsideContext = errors.New("path outside build context")
)
