// Package interpreter is a thin adapter over a language-kernel
// subprocess: it owns context lifecycle and JSON-line request framing,
// and demultiplexes a kernel's rich-output MIME bundles into typed
// ExecutionResults. It is not the interpreter itself.
package interpreter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/delacroix-m/sandrun/internal/config"
	"github.com/delacroix-m/sandrun/protocol"
)

const shutdownGrace = 2 * time.Second

type liveContext struct {
	meta   CodeContext
	kernel *kernelProc
	execMu sync.Mutex
}

// Bridge manages one kernel subprocess per CodeContext.
type Bridge struct {
	cfg    config.InterpreterConfig
	logger *slog.Logger

	mu       sync.Mutex
	contexts map[string]*liveContext
}

// NewBridge builds a Bridge. cfg.KernelCommand maps a language tag to the
// argv used to launch its kernel subprocess.
func NewBridge(cfg config.InterpreterConfig, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, logger: logger, contexts: make(map[string]*liveContext)}
}

// CreateContext launches a kernel subprocess for language and waits for
// its ready signal.
func (b *Bridge) CreateContext(language, cwd string) (CodeContext, error) {
	argv, ok := b.cfg.KernelCommand[language]
	if !ok || len(argv) == 0 {
		return CodeContext{}, ErrUnsupportedLanguage
	}

	kernel, err := startKernel(argv, cwd, b.cfg.StartupTimeout, b.logger)
	if err != nil {
		return CodeContext{}, err
	}

	meta := CodeContext{
		ID:        uuid.NewString(),
		Language:  language,
		Cwd:       cwd,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	b.contexts[meta.ID] = &liveContext{meta: meta, kernel: kernel}
	b.mu.Unlock()

	return meta, nil
}

func (b *Bridge) get(contextID string) (*liveContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lc, ok := b.contexts[contextID]
	if !ok {
		return nil, ErrContextNotFound
	}
	return lc, nil
}

// ListContexts returns every live context's metadata.
func (b *Bridge) ListContexts() []CodeContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CodeContext, 0, len(b.contexts))
	for _, lc := range b.contexts {
		out = append(out, lc.meta)
	}
	return out
}

// DeleteContext shuts down a context's kernel subprocess and forgets it.
func (b *Bridge) DeleteContext(contextID string) error {
	b.mu.Lock()
	lc, ok := b.contexts[contextID]
	if ok {
		delete(b.contexts, contextID)
	}
	b.mu.Unlock()
	if !ok {
		return ErrContextNotFound
	}
	lc.kernel.shutdown(shutdownGrace)
	return nil
}

// RunCode executes code in contextID and waits for the kernel's done/error
// response, aggregating every intervening stdout/stderr/result message.
func (b *Bridge) RunCode(ctx context.Context, contextID, code string) (*ExecutionResult, error) {
	lc, err := b.get(contextID)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{}
	err = b.runCode(ctx, lc, code, func(resp protocol.KernelResponse) {
		switch resp.Type {
		case protocol.KernelResponseStdout:
			result.Stdout = append(result.Stdout, resp.Data)
		case protocol.KernelResponseStderr:
			result.Stderr = append(result.Stderr, resp.Data)
		case protocol.KernelResponseResult:
			if resp.Result != nil {
				result.Results = append(result.Results, *resp.Result)
			}
		case protocol.KernelResponseError:
			result.Error = resp.Error
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RunCodeStream executes code in contextID, invoking emit for every
// stdout/stderr/result/error event as it arrives, then one complete
// event. If the exchange with the kernel itself fails, an error event is
// emitted in place of complete and the error is returned.
func (b *Bridge) RunCodeStream(ctx context.Context, contextID, code string, emit func(protocol.CodeEvent)) error {
	lc, err := b.get(contextID)
	if err != nil {
		return err
	}

	err = b.runCode(ctx, lc, code, func(resp protocol.KernelResponse) {
		switch resp.Type {
		case protocol.KernelResponseStdout:
			emit(protocol.CodeEvent{Type: protocol.CodeEventStdout, Chunk: resp.Data})
		case protocol.KernelResponseStderr:
			emit(protocol.CodeEvent{Type: protocol.CodeEventStderr, Chunk: resp.Data})
		case protocol.KernelResponseResult:
			emit(protocol.CodeEvent{Type: protocol.CodeEventResult, Result: resp.Result})
		case protocol.KernelResponseError:
			emit(protocol.CodeEvent{Type: protocol.CodeEventError, Error: resp.Error})
		}
	})
	if err != nil {
		emit(protocol.CodeEvent{Type: protocol.CodeEventError, Error: err.Error()})
		return err
	}
	emit(protocol.CodeEvent{Type: protocol.CodeEventComplete})
	return nil
}

// runCode serializes one execute/drain cycle against a context's kernel:
// only one request may be in flight per context at a time, so kernel
// responses never need to be demultiplexed by request id.
func (b *Bridge) runCode(ctx context.Context, lc *liveContext, code string, onResponse func(protocol.KernelResponse)) error {
	lc.execMu.Lock()
	defer lc.execMu.Unlock()

	reqID := uuid.NewString()
	req := protocol.KernelRequest{ID: reqID, Type: protocol.KernelRequestExecute, Code: code}
	if err := lc.kernel.send(req); err != nil {
		return fmt.Errorf("sending execute request: %w", err)
	}

	for {
		resp, err := lc.kernel.next(ctx)
		if err != nil {
			return err
		}
		if resp.ID != reqID {
			continue
		}
		onResponse(resp)
		if resp.Type == protocol.KernelResponseDone || resp.Type == protocol.KernelResponseError {
			return nil
		}
	}
}
