package port

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/websocket"
)

// Proxy reverse-proxies preview-URL traffic to 127.0.0.1:<port>. It runs
// ahead of the normal request router so a user process can never be
// shadowed by a runtime endpoint.
type Proxy struct {
	manager     *Manager
	baseDomain  string
	dialTimeout time.Duration
	logger      *slog.Logger

	upgrader websocket.Upgrader
}

// NewProxy builds a Proxy bound to manager, validating preview hostnames
// against baseDomain.
func NewProxy(manager *Manager, baseDomain string, dialTimeout time.Duration, logger *slog.Logger) *Proxy {
	return &Proxy{
		manager:     manager,
		baseDomain:  baseDomain,
		dialTimeout: dialTimeout,
		logger:      logger,
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Match reports whether r's Host encodes a preview-URL request, returning
// the target localhost port if so.
func (p *Proxy) Match(r *http.Request) (int, bool) {
	targetPort, _, ok := ParseHostname(r.Host, p.baseDomain)
	return targetPort, ok
}

// ServeHTTP proxies r to the local port encoded in its hostname. Callers
// must only invoke this after Match has returned ok.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	targetPort, _, ok := ParseHostname(r.Host, p.baseDomain)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if !p.manager.IsActive(targetPort) {
		writeProxyError(w, http.StatusNotFound, "port not exposed")
		return
	}

	if isUpgradeRequest(r) {
		p.proxyWebsocket(w, r, targetPort)
		return
	}
	p.proxyHTTP(w, r, targetPort)
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func (p *Proxy) proxyHTTP(w http.ResponseWriter, r *http.Request, targetPort int) {
	target := &url.URL{Scheme: "http", Host: localAddr(targetPort)}
	rp := httputil.NewSingleHostReverseProxy(target)

	dialer := &net.Dialer{Timeout: p.dialTimeout}
	rp.Transport = &http.Transport{
		DialContext: dialer.DialContext,
	}

	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if isConnRefused(err) {
			writeProxyError(w, http.StatusBadGateway, "upstream connection refused")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			writeProxyError(w, http.StatusGatewayTimeout, "upstream connection timed out")
			return
		}
		writeProxyError(w, http.StatusBadGateway, "upstream error")
	}

	m := httpsnoop.CaptureMetrics(rp, w, r)
	if p.logger != nil {
		p.logger.Debug("preview proxy request", "port", targetPort, "method", r.Method,
			"path", r.URL.Path, "status", m.Code, "bytes", m.Written, "duration", m.Duration)
	}
}

// proxyWebsocket upgrades the client connection, opens a matching
// websocket connection to the backend, and pumps messages bidirectionally
// until either side closes.
func (p *Proxy) proxyWebsocket(w http.ResponseWriter, r *http.Request, targetPort int) {
	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("websocket upgrade failed", "port", targetPort, "err", err)
		}
		return
	}
	defer clientConn.Close()

	backendURL := url.URL{Scheme: "ws", Host: localAddr(targetPort), Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	dialer := websocket.Dialer{HandshakeTimeout: p.dialTimeout}
	backendConn, _, err := dialer.Dial(backendURL.String(), filteredUpgradeHeaders(r.Header))
	if err != nil {
		_ = clientConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unreachable"))
		return
	}
	defer backendConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go pumpWebsocket(&wg, clientConn, backendConn)
	go pumpWebsocket(&wg, backendConn, clientConn)
	wg.Wait()
}

func pumpWebsocket(wg *sync.WaitGroup, dst, src *websocket.Conn) {
	defer wg.Done()
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

// filteredUpgradeHeaders strips the websocket handshake headers (including
// Sec-WebSocket-Protocol), forwarding everything else such as auth and
// cookies; subprotocols are not forwarded to the backend.
func filteredUpgradeHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key", "sec-websocket-version",
			"sec-websocket-extensions", "sec-websocket-protocol":
			continue
		}
		out[k] = v
	}
	return out
}

func localAddr(p int) string {
	return "127.0.0.1:" + strconv.Itoa(p)
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(opErr.Err.Error(), "connection refused")
	}
	return strings.Contains(err.Error(), "connection refused")
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func writeProxyError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"error":{"message":"` + message + `"}}`))
}
