// Package session implements the sandbox's persistent command shell: one
// long-lived bash process per session, driven by writing one complete,
// self-contained script per command to its stdin and recovering output
// through named pipes rather than scraping a PTY.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/delacroix-m/sandrun/protocol"
)

// Config snapshots the per-session defaults a Session is created with.
type Config struct {
	InitialCwd     string
	EnvOverlay     []string
	OutputCapBytes int64
	Timeout        time.Duration
	PollInterval   time.Duration
}

// Session wraps one persistent shell process and the scratch files used to
// recover per-command output out of band.
type Session struct {
	ID         string
	cfg        Config
	scratchDir string
	logger     *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdinMu sync.Mutex

	mu      sync.Mutex
	handles map[string]*CommandHandle

	ready     atomic.Bool
	destroyed atomic.Bool
	exited    chan struct{}
}

// New spawns a fresh bash shell rooted at scratchRoot/id and returns the
// ready Session.
func New(id string, cfg Config, scratchRoot string, logger *slog.Logger) (*Session, error) {
	dir := filepath.Join(scratchRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	cmd := exec.Command("bash", "--norc", "--noprofile")
	cmd.Dir = cfg.InitialCwd
	cmd.Env = append(os.Environ(), cfg.EnvOverlay...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open shell stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &Session{
		ID:         id,
		cfg:        cfg,
		scratchDir: dir,
		logger:     logger.With("session_id", id),
		cmd:        cmd,
		stdin:      stdin,
		handles:    make(map[string]*CommandHandle),
		exited:     make(chan struct{}),
	}
	s.ready.Store(true)

	go func() {
		_ = cmd.Wait()
		s.ready.Store(false)
		s.destroyed.Store(true)
		close(s.exited)
	}()

	return s, nil
}

func (s *Session) newHandle(cmd string, foreground bool) *CommandHandle {
	id := uuid.NewString()
	return &CommandHandle{
		ID:             id,
		Command:        cmd,
		Foreground:     foreground,
		OutputLogPath:  filepath.Join(s.scratchDir, id+".log"),
		ExitCodePath:   filepath.Join(s.scratchDir, id+".exit"),
		PidPath:        filepath.Join(s.scratchDir, id+".pid"),
		StdoutFifoPath: filepath.Join(s.scratchDir, id+".out.fifo"),
		StderrFifoPath: filepath.Join(s.scratchDir, id+".err.fifo"),
	}
}

func (s *Session) write(script []byte) error {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	_, err := s.stdin.Write(script)
	return err
}

func (s *Session) requestDefaults(req ExecRequest) ExecRequest {
	if req.Timeout <= 0 {
		req.Timeout = s.cfg.Timeout
	}
	return req
}

// Exec runs req to completion in the foreground, serialized against any
// other foreground command on this session by the shell's own read loop.
func (s *Session) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if reason := checkDangerous(req.Command); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrDangerousCommand, reason)
	}
	if !s.ready.Load() {
		return nil, ErrSessionNotReady
	}

	req = s.requestDefaults(req)
	h := s.newHandle(req.Command, true)
	s.mu.Lock()
	s.handles[h.ID] = h
	s.mu.Unlock()

	start := time.Now()
	if err := s.write(buildForegroundScript(h, req)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	exitCode, data, err := s.waitForExit(ctx, h, req.Timeout, nil)
	if err != nil {
		return nil, err
	}

	stdout, stderr := decodeOutputLog(data)
	return &ExecResult{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Duration:  time.Since(start),
		Timestamp: start,
	}, nil
}

// ExecStream runs req in the foreground, invoking emit once with a "start"
// event, then for every stdout and stderr line as it becomes available, then
// once more with a "complete" or "error" event.
func (s *Session) ExecStream(ctx context.Context, req ExecRequest, emit func(Event)) error {
	if reason := checkDangerous(req.Command); reason != "" {
		return fmt.Errorf("%w: %s", ErrDangerousCommand, reason)
	}
	if !s.ready.Load() {
		return ErrSessionNotReady
	}

	req = s.requestDefaults(req)
	h := s.newHandle(req.Command, true)
	s.mu.Lock()
	s.handles[h.ID] = h
	s.mu.Unlock()

	if err := s.write(buildForegroundScript(h, req)); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}

	emit(Event{Kind: "start"})
	exitCode, _, err := s.waitForExit(ctx, h, req.Timeout, emit)
	if err != nil {
		emit(Event{Kind: "error", Message: err.Error()})
		return err
	}
	ec := exitCode
	emit(Event{Kind: "complete", ExitCode: &ec})
	return nil
}

// StartBackground launches req detached from the shell and returns its
// command id and OS pid once the shell has reported it.
func (s *Session) StartBackground(ctx context.Context, req ExecRequest) (string, int, error) {
	if reason := checkDangerous(req.Command); reason != "" {
		return "", 0, fmt.Errorf("%w: %s", ErrDangerousCommand, reason)
	}
	if !s.ready.Load() {
		return "", 0, ErrSessionNotReady
	}

	req = s.requestDefaults(req)
	h := s.newHandle(req.Command, false)
	s.mu.Lock()
	s.handles[h.ID] = h
	s.mu.Unlock()

	if err := s.write(buildBackgroundScript(h, req)); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	pid, err := s.waitForPidFile(ctx, h)
	if err != nil {
		return "", 0, err
	}

	s.mu.Lock()
	h.Pid = pid
	s.mu.Unlock()

	return h.ID, pid, nil
}

// Handle returns the tracked handle for a command id issued by this session.
func (s *Session) Handle(id string) (*CommandHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// Watch streams output events for an in-flight command, foreground or
// background, until its exit-code file appears, returning the exit code.
// If the session's command timeout passes first, a background command is
// killed with SIGKILL (a foreground command's whole session is destroyed)
// and ErrTimeout is returned. Used by the process registry to tail a background command it started
// through StartBackground.
func (s *Session) Watch(ctx context.Context, commandID string, emit func(Event)) (int, error) {
	h, ok := s.Handle(commandID)
	if !ok {
		return 0, ErrCommandNotFound
	}
	ec, _, err := s.waitForExit(ctx, h, s.cfg.Timeout, emit)
	return ec, err
}

// KillCommand signals the OS process backing a background command and
// its descendants, escalating from SIGTERM to SIGKILL if they do not
// exit promptly. Walking the process tree keeps a shell pipeline's
// children from being orphaned when only the pipeline's own pid is
// signaled.
func (s *Session) KillCommand(id string) error {
	h, ok := s.Handle(id)
	if !ok {
		return ErrCommandNotFound
	}
	if h.Foreground {
		return fmt.Errorf("%w: command %s is foreground", ErrCommandNotFound, id)
	}
	if h.Pid == 0 {
		return ErrCommandNotFound
	}

	pids := descendantsOf(h.Pid)
	for _, pid := range pids {
		_ = unix.Kill(pid, unix.SIGTERM)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if unix.Kill(h.Pid, 0) != nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	for _, pid := range descendantsOf(h.Pid) {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}

// Destroy terminates the shell and removes its scratch files. Any command
// still in flight observes ErrSessionDestroyed.
func (s *Session) Destroy() error {
	if s.destroyed.Swap(true) {
		return nil
	}
	s.ready.Store(false)
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.exited
	return os.RemoveAll(s.scratchDir)
}

// waitForPidFile polls for the pid file a background script writes,
// returning ErrTimeout if the shell never reports readiness in time.
func (s *Session) waitForPidFile(ctx context.Context, h *CommandHandle) (int, error) {
	deadline := time.Now().Add(s.cfg.Timeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !s.ready.Load() {
			return 0, ErrSessionDestroyed
		}
		data, err := os.ReadFile(h.PidPath)
		if err == nil {
			if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil {
				return pid, nil
			}
		}
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForExit polls the exit-code file and, once emit is non-nil, tails the
// output log as new lines arrive. It returns the exit code and the full
// accumulated output log contents.
func (s *Session) waitForExit(ctx context.Context, h *CommandHandle, timeout time.Duration, emit func(Event)) (int, []byte, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var tailed int64
	var pending []byte

	for {
		if !s.ready.Load() {
			return 0, nil, ErrSessionDestroyed
		}

		info, statErr := os.Stat(h.OutputLogPath)
		if statErr == nil {
			if info.Size() > s.cfg.OutputCapBytes {
				if !h.Foreground && h.Pid != 0 {
					_ = unix.Kill(h.Pid, unix.SIGKILL)
				} else if h.Foreground {
					_ = s.Destroy()
				}
				return 0, nil, ErrOutputTooLarge
			}
			if emit != nil {
				tailed, pending = s.tailLines(h.OutputLogPath, tailed, pending, emit)
			}
		}

		if ec, data, ok := s.readExitCode(h); ok {
			if emit != nil {
				s.tailLines(h.OutputLogPath, tailed, pending, emit)
			}
			return ec, data, nil
		}

		if time.Now().After(deadline) {
			if h.Foreground {
				_ = s.Destroy()
			} else if h.Pid != 0 {
				_ = unix.Kill(h.Pid, unix.SIGKILL)
			}
			return 0, nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// readExitCode returns the parsed exit code and the full output log
// contents once the exit-code file has a complete, trailing-newline write.
func (s *Session) readExitCode(h *CommandHandle) (int, []byte, bool) {
	raw, err := os.ReadFile(h.ExitCodePath)
	if err != nil || !bytes.HasSuffix(raw, []byte("\n")) {
		return 0, nil, false
	}
	ec, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, nil, false
	}
	data, _ := os.ReadFile(h.OutputLogPath)
	return ec, data, true
}

// tailLines reads newly appended bytes from path since offset, emits one
// Event per complete line, and returns the new offset plus any unterminated
// trailing bytes to prepend next call.
func (s *Session) tailLines(path string, offset int64, pending []byte, emit func(Event)) (int64, []byte) {
	f, err := os.Open(path)
	if err != nil {
		return offset, pending
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, pending
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return offset, pending
	}
	if len(chunk) == 0 {
		return offset, pending
	}

	buf := append(pending, chunk...)
	lines := bytes.Split(buf, []byte("\n"))
	complete := lines[:len(lines)-1]
	rest := lines[len(lines)-1]

	for _, line := range complete {
		kind, content := classifyLine(line)
		if kind == "" {
			continue
		}
		emit(Event{Kind: kind, Chunk: content})
	}

	return offset + int64(len(chunk)), rest
}

func classifyLine(line []byte) (string, string) {
	switch {
	case bytes.HasPrefix(line, []byte(protocol.StdoutMarker)):
		return "stdout", string(line[len(protocol.StdoutMarker):])
	case bytes.HasPrefix(line, []byte(protocol.StderrMarker)):
		return "stderr", string(line[len(protocol.StderrMarker):])
	default:
		return "", ""
	}
}

// decodeOutputLog splits a command's full output log into its stdout and
// stderr streams.
func decodeOutputLog(data []byte) (string, string) {
	var stdout, stderr strings.Builder
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		kind, content := classifyLine(line)
		switch kind {
		case "stdout":
			stdout.WriteString(content)
			stdout.WriteByte('\n')
		case "stderr":
			stderr.WriteString(content)
			stderr.WriteByte('\n')
		}
	}
	return stdout.String(), stderr.String()
}
