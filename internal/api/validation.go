package api

import (
	"fmt"

	"github.com/delacroix-m/sandrun/protocol"
)

func validateCommand(cmd string) error {
	if cmd == "" {
		return fmt.Errorf("command is required")
	}
	if len(cmd) > protocol.MaxExecCmdBytes {
		return fmt.Errorf("command is too large (%d bytes), max is %d bytes", len(cmd), protocol.MaxExecCmdBytes)
	}
	return nil
}

func validatePortNumber(p int) error {
	if p < protocol.MinExposablePort || p > protocol.MaxExposablePort {
		return fmt.Errorf("port must be between %d and %d", protocol.MinExposablePort, protocol.MaxExposablePort)
	}
	if p == protocol.ReservedPort {
		return fmt.Errorf("port %d is reserved for the runtime's own HTTP surface", protocol.ReservedPort)
	}
	return nil
}

func validateWriteRequest(path, text, contentBase64 string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if text != "" && contentBase64 != "" {
		return fmt.Errorf("provide either 'text' or 'contentBase64', not both")
	}
	return nil
}

func validateMaxBytes(maxBytes int64) error {
	if maxBytes < 0 {
		return fmt.Errorf("maxBytes must be non-negative")
	}
	return nil
}
