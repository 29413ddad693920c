package process

import "errors"

var (
	ErrNotFound      = errors.New("process not found")
	ErrAlreadyExists = errors.New("process id already in use")
)
