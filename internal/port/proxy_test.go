package port

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/delacroix-m/sandrun/internal/store"
	"github.com/gorilla/websocket"
)

const testBaseDomain = "sandrun.dev"

func newProxyTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ports.db")
	s, err := store.New(path, 0)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s, "sandbox-1", testBaseDomain)
}

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	_, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return p
}

func TestProxyMatch(t *testing.T) {
	m := newProxyTestManager(t)
	p := NewProxy(m, testBaseDomain, time.Second, nil)

	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	req.Host = "8080-sandbox-1.sandrun.dev"
	port, ok := p.Match(req)
	if !ok || port != 8080 {
		t.Fatalf("Match = (%d, %v), want (8080, true)", port, ok)
	}

	req2, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	req2.Host = "normal-host.example.com"
	if _, ok := p.Match(req2); ok {
		t.Fatalf("Match should not match a non-preview host")
	}
}

func TestProxyServeHTTPUnexposedPortReturns404(t *testing.T) {
	m := newProxyTestManager(t)
	p := NewProxy(m, testBaseDomain, time.Second, nil)
	frontend := httptest.NewServer(p)
	defer frontend.Close()

	req, _ := http.NewRequest(http.MethodGet, frontend.URL+"/", nil)
	req.Host = "8080-sandbox-1.sandrun.dev"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProxyServeHTTPForwardsToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "yes")
		_, _ = w.Write([]byte("hello from backend: " + r.URL.Path))
	}))
	defer backend.Close()

	m := newProxyTestManager(t)
	bp := backendPort(t, backend)
	if _, err := m.Expose(bp, "web"); err != nil {
		t.Fatalf("Expose: %v", err)
	}

	p := NewProxy(m, testBaseDomain, 2*time.Second, nil)
	frontend := httptest.NewServer(p)
	defer frontend.Close()

	req, _ := http.NewRequest(http.MethodGet, frontend.URL+"/hi", nil)
	req.Host = strconv.Itoa(bp) + "-sandbox-1.sandrun.dev"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "hello from backend: /hi") {
		t.Fatalf("body = %q", body)
	}
	if resp.Header.Get("X-Backend") != "yes" {
		t.Fatalf("missing proxied response header")
	}
}

func TestProxyServeHTTPConnectionRefused(t *testing.T) {
	// Find a free port, then close the listener immediately so nothing is
	// listening on it when the proxy dials it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	freePort := l.Addr().(*net.TCPAddr).Port
	l.Close()

	m := newProxyTestManager(t)
	if _, err := m.Expose(freePort, "dead"); err != nil {
		t.Fatalf("Expose: %v", err)
	}

	p := NewProxy(m, testBaseDomain, 2*time.Second, nil)
	frontend := httptest.NewServer(p)
	defer frontend.Close()

	req, _ := http.NewRequest(http.MethodGet, frontend.URL+"/", nil)
	req.Host = strconv.Itoa(freePort) + "-sandbox-1.sandrun.dev"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestProxyWebsocketEcho(t *testing.T) {
	upgrader := websocket.Upgrader{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer backend.Close()

	m := newProxyTestManager(t)
	bp := backendPort(t, backend)
	if _, err := m.Expose(bp, "ws"); err != nil {
		t.Fatalf("Expose: %v", err)
	}

	p := NewProxy(m, testBaseDomain, 2*time.Second, nil)
	frontend := httptest.NewServer(p)
	defer frontend.Close()

	frontendAddr := strings.TrimPrefix(frontend.URL, "http://")
	previewHost := strconv.Itoa(bp) + "-sandbox-1.sandrun.dev"

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, frontendAddr)
		},
		HandshakeTimeout: 2 * time.Second,
	}
	conn, _, err := dialer.Dial("ws://"+previewHost+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(data) != "ping" {
		t.Fatalf("echoed = %q, want %q", data, "ping")
	}
}
