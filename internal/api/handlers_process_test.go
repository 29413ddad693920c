package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/protocol"
)

func TestHandleProcessStartEmptyCommand(t *testing.T) {
	procs := &mockProcessService{}
	s := testServer(procs, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/process/start", strings.NewReader(`{"command":""}`))
	rec := httptest.NewRecorder()
	s.handleProcessStart(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	procs.AssertNotCalled(t, "StartProcess")
}

func TestHandleProcessStartSuccess(t *testing.T) {
	procs := &mockProcessService{}
	s := testServer(procs, nil, nil, nil)

	snap := process.Snapshot{ID: "p1", SessionID: "default", Command: "sleep 1", Status: process.StatusRunning, Pid: 123, StartTime: time.Now()}
	procs.On("StartProcess", mock.Anything, mock.MatchedBy(func(r process.StartRequest) bool { return r.Command == "sleep 1" })).Return(snap, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/process/start", strings.NewReader(`{"command":"sleep 1"}`))
	rec := httptest.NewRecorder()
	s.handleProcessStart(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "p1" || body["status"] != "running" {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleProcessGetNotFound(t *testing.T) {
	procs := &mockProcessService{}
	s := testServer(procs, nil, nil, nil)
	procs.On("Get", "missing").Return(process.Snapshot{}, false)

	req := httptest.NewRequest(http.MethodGet, "/api/process/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	s.handleProcessGet(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleProcessLogsWithTail(t *testing.T) {
	procs := &mockProcessService{}
	s := testServer(procs, nil, nil, nil)
	procs.On("Logs", "p1").Return("a\nb\nc\n", "err1\nerr2\n", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/process/p1/logs?tail=2", nil)
	req.SetPathValue("id", "p1")
	rec := httptest.NewRecorder()
	s.handleProcessLogs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["stdout"] != "b\nc\n" {
		t.Errorf("stdout = %q, want %q", body["stdout"], "b\nc\n")
	}
}

func TestHandleProcessStreamRepeatsBufferedThenExit(t *testing.T) {
	procs := &mockProcessService{}
	s := testServer(procs, nil, nil, nil)

	ec := 0
	procs.On("StreamLogs", mock.Anything, "p1", mock.Anything).Run(func(args mock.Arguments) {
		emit := args.Get(2).(func(protocol.LogEvent))
		emit(protocol.LogEvent{Type: protocol.LogEventStdout, Chunk: "hi\n"})
		emit(protocol.LogEvent{Type: protocol.LogEventExit, ExitCode: &ec})
	}).Return(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/process/p1/stream", nil)
	req.SetPathValue("id", "p1")
	rec := httptest.NewRecorder()
	s.handleProcessStream(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"chunk":"hi\n"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandleProcessKillAll(t *testing.T) {
	procs := &mockProcessService{}
	s := testServer(procs, nil, nil, nil)
	procs.On("KillAll").Return(3)

	req := httptest.NewRequest(http.MethodDelete, "/api/process/kill-all", nil)
	rec := httptest.NewRecorder()
	s.handleProcessKillAll(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["killedCount"] != float64(3) {
		t.Errorf("killedCount = %v", body["killedCount"])
	}
}
