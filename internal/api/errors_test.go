package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/delacroix-m/sandrun/internal/fileops"
	"github.com/delacroix-m/sandrun/internal/port"
	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/internal/session"
)

func TestClassifyMapsKnownSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrSessionDestroyed, http.StatusGone, "SessionDestroyed"},
		{session.ErrCommandNotFound, http.StatusNotFound, "CommandNotFound"},
		{session.ErrTimeout, http.StatusGatewayTimeout, "Timeout"},
		{session.ErrDangerousCommand, http.StatusForbidden, "DangerousCommand"},
		{process.ErrNotFound, http.StatusNotFound, "ProcessNotFound"},
		{port.ErrPortAlreadyExposed, http.StatusConflict, "PortAlreadyExposed"},
		{port.ErrConnectionRefused, http.StatusBadGateway, "ConnectionRefused"},
		{fileops.ErrPathEscapes, http.StatusForbidden, "PathSecurityViolation"},
		{fileops.ErrFileExists, http.StatusConflict, "FileExists"},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		if got.status != tc.status || got.code != tc.code {
			t.Errorf("classify(%v) = {%d %s}, want {%d %s}", tc.err, got.status, got.code, tc.status, tc.code)
		}
	}
}

func TestClassifyWrapsErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), fileops.ErrNotFound)
	got := classify(wrapped)
	if got.code != "FileNotFound" {
		t.Errorf("classify(wrapped) = %+v, want FileNotFound", got)
	}
}

func TestClassifyUnknownFallsBackToInternalError(t *testing.T) {
	got := classify(errors.New("something unexpected"))
	if got.status != http.StatusInternalServerError || got.code != "InternalError" {
		t.Errorf("classify(unknown) = %+v, want 500 InternalError", got)
	}
}
