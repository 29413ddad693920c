package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/delacroix-m/sandrun/internal/port"
	"github.com/delacroix-m/sandrun/internal/store"
)

func TestHandleExposePortRejectsReserved(t *testing.T) {
	ports := &mockPortService{}
	s := testServer(nil, ports, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/expose-port", strings.NewReader(`{"port":3000}`))
	rec := httptest.NewRecorder()
	s.handleExposePort(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	ports.AssertNotCalled(t, "Expose")
}

func TestHandleExposePortSuccess(t *testing.T) {
	ports := &mockPortService{}
	s := testServer(nil, ports, nil, nil)

	entry := &store.PortEntry{Port: 8080, Name: "web", Status: store.StatusActive, ExposedAt: time.Now()}
	ports.On("Expose", 8080, "web").Return(entry, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/expose-port", strings.NewReader(`{"port":8080,"name":"web"}`))
	rec := httptest.NewRecorder()
	s.handleExposePort(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExposePortAlreadyExposed(t *testing.T) {
	ports := &mockPortService{}
	s := testServer(nil, ports, nil, nil)
	ports.On("Expose", 8080, "").Return(nil, port.ErrPortAlreadyExposed)

	req := httptest.NewRequest(http.MethodPost, "/api/expose-port", strings.NewReader(`{"port":8080}`))
	rec := httptest.NewRecorder()
	s.handleExposePort(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestHandleUnexposePortNotExposed(t *testing.T) {
	ports := &mockPortService{}
	s := testServer(nil, ports, nil, nil)
	ports.On("Unexpose", 9999).Return(port.ErrPortNotExposed)

	req := httptest.NewRequest(http.MethodPost, "/api/unexpose-port", strings.NewReader(`{"port":9999}`))
	rec := httptest.NewRecorder()
	s.handleUnexposePort(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleExposedPorts(t *testing.T) {
	ports := &mockPortService{}
	s := testServer(nil, ports, nil, nil)
	ports.On("List").Return([]port.Listing{{Port: 8080, Status: "active", URL: "https://8080-sbx.example.com"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/exposed-ports", nil)
	rec := httptest.NewRecorder()
	s.handleExposedPorts(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	list, ok := body["ports"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("ports = %+v", body["ports"])
	}
}
