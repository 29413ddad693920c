// Package process turns background commands launched through the session
// engine into named, queryable, killable, streamable entities, with
// bounded log buffers and listener fan-out.
package process

import (
	"strings"
	"sync"
	"time"

	"github.com/delacroix-m/sandrun/protocol"
)

// Status is a ProcessRecord's lifecycle state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
	StatusError     Status = "error"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled, StatusError:
		return true
	default:
		return false
	}
}

// Record is the user-visible long-lived entity wrapping a background
// command: accumulated logs plus the set of active subscribers.
type Record struct {
	ID        string
	SessionID string
	Command   string
	Pid       int
	StartTime time.Time

	mu            sync.Mutex
	commandID     string
	status        Status
	endTime       *time.Time
	exitCode      *int
	errorMessage  string
	killRequested bool
	stdout        strings.Builder
	stderr        strings.Builder
	listeners     map[string]chan protocol.LogEvent
}

const listenerBufferSize = 256

func newRecord(id, sessionID, command string) *Record {
	return &Record{
		ID:        id,
		SessionID: sessionID,
		Command:   command,
		StartTime: time.Now(),
		status:    StatusStarting,
		listeners: make(map[string]chan protocol.LogEvent),
	}
}

// Snapshot is the point-in-time view of a Record returned by list/get.
type Snapshot struct {
	ID        string
	SessionID string
	Command   string
	Status    Status
	Pid       int
	StartTime time.Time
	EndTime   *time.Time
	ExitCode  *int
	Error     string
}

func (r *Record) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:        r.ID,
		SessionID: r.SessionID,
		Command:   r.Command,
		Status:    r.status,
		Pid:       r.Pid,
		StartTime: r.StartTime,
		EndTime:   r.endTime,
		ExitCode:  r.exitCode,
		Error:     r.errorMessage,
	}
}

func (r *Record) appendStdout(chunk string) {
	r.mu.Lock()
	r.stdout.WriteString(chunk)
	r.stdout.WriteByte('\n')
	r.mu.Unlock()
}

func (r *Record) appendStderr(chunk string) {
	r.mu.Lock()
	r.stderr.WriteString(chunk)
	r.stderr.WriteByte('\n')
	r.mu.Unlock()
}

func (r *Record) logs() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdout.String(), r.stderr.String()
}

func (r *Record) isTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Terminal()
}

// trySendDropOldest delivers e to ch without blocking, discarding the
// oldest buffered event to make room when the listener is falling behind.
func trySendDropOldest(ch chan protocol.LogEvent, e protocol.LogEvent) {
	select {
	case ch <- e:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}

func (r *Record) broadcast(e protocol.LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.listeners {
		trySendDropOldest(ch, e)
	}
}
