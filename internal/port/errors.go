package port

import "errors"

var (
	ErrInvalidPort        = errors.New("port out of allowed range or reserved")
	ErrPortAlreadyExposed = errors.New("port already exposed")
	ErrPortNotExposed     = errors.New("port not exposed")
	ErrConnectionRefused  = errors.New("upstream connection refused")
	ErrConnectionTimeout  = errors.New("upstream connection timed out")
)
