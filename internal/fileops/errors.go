package fileops

import "errors"

var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrPathEscapes    = errors.New("path escapes allowed roots")
	ErrExecInTmpDenied = errors.New("executable files are not permitted under /tmp")
	ErrNotFound       = errors.New("no such file or directory")
	ErrFileExists     = errors.New("file exists")
	ErrIsDirectory    = errors.New("is a directory")
	ErrNotDirectory   = errors.New("not a directory")
)
