package interpreter

import (
	"time"

	"github.com/delacroix-m/sandrun/protocol"
)

// CodeContext is one live kernel subprocess and its identifying metadata.
type CodeContext struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	Cwd       string    `json:"cwd"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExecutionResult is the demultiplexed outcome of one runCode call.
type ExecutionResult struct {
	Results []protocol.KernelResult `json:"results"`
	Stdout  []string                `json:"stdout"`
	Stderr  []string                `json:"stderr"`
	Error   string                  `json:"error,omitempty"`
}
