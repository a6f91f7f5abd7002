package build

import "errors"

var (
	ErrBuild               = errors.New("build failed")
	ErrResolve             = errors.New("base image resolution failed")
	ErrMissingFile         = errors.New("missing file")
	ErrCommandFailed       = errors.New("command failed")
	ErrCopy                = errors.New("copy failed")
	ErrLint                = errors.New("recipe has lint findings")
	ErrFileSystemOperation = errors.New("file system operation failed")
	ErrInvalidOptions      = errors.New("invalid build options")
)
