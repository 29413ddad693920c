package process

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/delacroix-m/sandrun/internal/session"
	"github.com/delacroix-m/sandrun/protocol"
)

// StartRequest describes a background process to launch.
type StartRequest struct {
	Command   string
	ProcessID string
	SessionID string
	Cwd       string
	Env       []string
}

// Registry is the sandbox-scoped table of background processes, sitting
// above the session engine.
type Registry struct {
	sessions  *session.Manager
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	records map[string]*Record
}

// NewRegistry builds a Registry backed by sessions, retaining terminal
// records for retention before CleanupCompleted may drop them.
func NewRegistry(sessions *session.Manager, retention time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		sessions:  sessions,
		retention: retention,
		logger:    logger,
		records:   make(map[string]*Record),
	}
}

func (r *Registry) resolveSession(sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return r.sessions.GetOrCreateDefault()
	}
	if s, ok := r.sessions.Get(sessionID); ok {
		return s, nil
	}
	return r.sessions.Create(sessionID)
}

// StartProcess resolves (or creates) the named session, starts the command
// in the background, and registers a tailer that buffers and fans out its
// output until it reaches a terminal status.
func (r *Registry) StartProcess(ctx context.Context, req StartRequest) (Snapshot, error) {
	sess, err := r.resolveSession(req.SessionID)
	if err != nil {
		return Snapshot{}, err
	}

	id := req.ProcessID
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.records[id]; exists {
		r.mu.Unlock()
		return Snapshot{}, ErrAlreadyExists
	}
	rec := newRecord(id, sess.ID, req.Command)
	r.records[id] = rec
	r.mu.Unlock()

	commandID, pid, err := sess.StartBackground(ctx, session.ExecRequest{
		Command: req.Command,
		Cwd:     req.Cwd,
		Env:     req.Env,
	})
	if err != nil {
		rec.mu.Lock()
		now := time.Now()
		rec.status = StatusError
		rec.endTime = &now
		rec.errorMessage = err.Error()
		rec.mu.Unlock()
		return rec.snapshot(), nil
	}

	rec.mu.Lock()
	rec.commandID = commandID
	rec.Pid = pid
	rec.status = StatusRunning
	rec.mu.Unlock()

	go r.tail(sess, rec)

	return rec.snapshot(), nil
}

// tail runs on its own goroutine for the lifetime of one background
// command, buffering output and notifying listeners until it exits. It
// never panics or takes down the runtime: failures surface as the
// record's own error status.
func (r *Registry) tail(sess *session.Session, rec *Record) {
	exitCode, err := sess.Watch(context.Background(), rec.commandID, func(e session.Event) {
		switch e.Kind {
		case "stdout":
			rec.appendStdout(e.Chunk)
			rec.broadcast(protocol.LogEvent{Type: protocol.LogEventStdout, Chunk: e.Chunk})
		case "stderr":
			rec.appendStderr(e.Chunk)
			rec.broadcast(protocol.LogEvent{Type: protocol.LogEventStderr, Chunk: e.Chunk})
		}
	})

	rec.mu.Lock()
	now := time.Now()
	rec.endTime = &now
	killed := rec.killRequested
	switch {
	case err != nil:
		if killed {
			rec.status = StatusKilled
		} else {
			rec.status = StatusError
			rec.errorMessage = err.Error()
		}
	default:
		ec := exitCode
		rec.exitCode = &ec
		switch {
		case killed:
			rec.status = StatusKilled
		case exitCode == 0:
			rec.status = StatusCompleted
		default:
			rec.status = StatusFailed
		}
	}
	listeners := rec.listeners
	rec.listeners = make(map[string]chan protocol.LogEvent)
	exitCodePtr := rec.exitCode
	rec.mu.Unlock()

	exitEvent := protocol.LogEvent{Type: protocol.LogEventExit, ExitCode: exitCodePtr}
	for _, ch := range listeners {
		trySendDropOldest(ch, exitEvent)
		close(ch)
	}

	if r.logger != nil && err != nil && !killed {
		r.logger.Warn("process ended with error", "process_id", rec.ID, "err", err)
	}
}

// List enumerates tracked processes, optionally filtered to one session.
func (r *Registry) List(sessionID string) []Snapshot {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		s := rec.snapshot()
		if sessionID != "" && s.SessionID != sessionID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Get returns the current snapshot of one process.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// Logs returns the full buffered stdout/stderr for a process.
func (r *Registry) Logs(id string) (string, string, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()
	if !ok {
		return "", "", ErrNotFound
	}
	stdout, stderr := rec.logs()
	return stdout, stderr, nil
}

// StreamLogs replays the buffered stdout, then the buffered stderr, then
// live events as they arrive, until ctx is cancelled or the process
// reaches a terminal status. Cancellation ends the stream cleanly without
// an error event.
func (r *Registry) StreamLogs(ctx context.Context, id string, emit func(protocol.LogEvent)) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	stdoutSnapshot := rec.stdout.String()
	stderrSnapshot := rec.stderr.String()
	terminal := rec.status.Terminal()
	exitCode := rec.exitCode
	var ch chan protocol.LogEvent
	var listenerID string
	if !terminal {
		ch = make(chan protocol.LogEvent, listenerBufferSize)
		listenerID = uuid.NewString()
		rec.listeners[listenerID] = ch
	}
	rec.mu.Unlock()

	if stdoutSnapshot != "" {
		emit(protocol.LogEvent{Type: protocol.LogEventStdout, Chunk: stdoutSnapshot})
	}
	if stderrSnapshot != "" {
		emit(protocol.LogEvent{Type: protocol.LogEventStderr, Chunk: stderrSnapshot})
	}

	if terminal {
		emit(protocol.LogEvent{Type: protocol.LogEventExit, ExitCode: exitCode})
		return nil
	}

	defer func() {
		rec.mu.Lock()
		delete(rec.listeners, listenerID)
		rec.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			emit(e)
			if e.Type == protocol.LogEventExit {
				return nil
			}
		}
	}
}

// Kill signals the process's underlying pid. The record transitions to
// killed once the tailer observes the resulting exit.
func (r *Registry) Kill(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	if rec.status.Terminal() {
		rec.mu.Unlock()
		return nil
	}
	rec.killRequested = true
	sessionID, commandID := rec.SessionID, rec.commandID
	rec.mu.Unlock()

	sess, ok := r.sessions.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	return sess.KillCommand(commandID)
}

// KillAll signals every non-terminal process and returns how many kill
// signals were sent; it does not wait for the resulting exits.
func (r *Registry) KillAll() int {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	killed := 0
	for _, rec := range recs {
		if rec.isTerminal() {
			continue
		}
		if err := r.Kill(rec.ID); err == nil {
			killed++
		}
	}
	return killed
}

// CleanupCompleted drops terminal records older than the retention window
// that have no active log-stream subscribers.
func (r *Registry) CleanupCompleted() int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.records {
		rec.mu.Lock()
		eligible := rec.status.Terminal() && rec.endTime != nil &&
			now.Sub(*rec.endTime) >= r.retention && len(rec.listeners) == 0
		rec.mu.Unlock()
		if eligible {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}
