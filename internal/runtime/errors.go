package runtime

import "errors"

var (
	ErrRuntime        = errors.New("runtime error")
	ErrResolve        = errors.New("cannot resolve image")
	ErrEntrypoint     = errors.New("entrypoint failed to start")
	ErrEmptyArchive   = errors.New("archive contains no image")
	ErrMultipleImages = errors.New("archive contains more than one image")
	ErrEmptyIndex     = errors.New("empty image index")
)
