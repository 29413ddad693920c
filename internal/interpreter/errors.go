package interpreter

import "errors"

var (
	ErrContextNotFound     = errors.New("context not found")
	ErrUnsupportedLanguage = errors.New("no kernel command configured for language")
	ErrKernelStartTimeout  = errors.New("kernel did not signal ready in time")
	ErrKernelCrashed       = errors.New("kernel process exited unexpectedly")
)
