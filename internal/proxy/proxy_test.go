// ABOUTME: Tests for the upstream reverse proxy
// ABOUTME: Covers forwarding, origin rewrite, 502 handling, and WebSocket passthrough

package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// upstreamRouter points a Router at a running httptest server.
func upstreamRouter(t *testing.T, upstream *httptest.Server, onFailure func()) *Router {
	t.Helper()
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	r, err := New(Config{Host: host, Port: port, OnFailure: onFailure}, testLogger())
	require.NoError(t, err)
	return r
}

// deadPort returns a port with nothing listening on it.
func deadPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRouter_ForwardsRequest(t *testing.T) {
	var got struct {
		method, path, query, body, host, forwardedFor, forwardedHost, requestID string
		cookie                                                                  string
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.body = string(body)
		got.host = r.Host
		got.forwardedFor = r.Header.Get("X-Forwarded-For")
		got.forwardedHost = r.Header.Get("X-Forwarded-Host")
		got.requestID = r.Header.Get(HeaderRequestID)
		got.cookie = r.Header.Get("Cookie")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer upstream.Close()

	r := upstreamRouter(t, upstream, nil)

	req := httptest.NewRequest(http.MethodPost, "http://notes.example.com/notes/42?draft=1", strings.NewReader("hello"))
	req.RemoteAddr = "203.0.113.9:5555"
	req.AddCookie(&http.Cookie{Name: "auth", Value: "1"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/notes/42", got.path)
	assert.Equal(t, "draft=1", got.query)
	assert.Equal(t, "hello", got.body)
	assert.Equal(t, r.Target(), got.host, "Host must be rewritten to the upstream")
	assert.Equal(t, "203.0.113.9", got.forwardedFor)
	assert.Equal(t, "notes.example.com", got.forwardedHost)
	assert.NotEmpty(t, got.requestID)
	assert.Contains(t, got.cookie, "auth=1")
}

func TestRouter_KeepsIncomingRequestID(t *testing.T) {
	var seen string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(HeaderRequestID)
	}))
	defer upstream.Close()

	r := upstreamRouter(t, upstream, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-123", seen)
}

func TestRouter_UpstreamDownReturns502Page(t *testing.T) {
	port := deadPort(t)
	var failures atomic.Int32

	r, err := New(Config{Port: port, OnFailure: func() { failures.Add(1) }}, testLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), strconv.Itoa(port))
	assert.Contains(t, rec.Body.String(), "Likely causes")
	assert.EqualValues(t, 1, failures.Load())
}

func TestRouter_ErrorAfterHeadersWritesNothing(t *testing.T) {
	r, err := New(Config{Port: deadPort(t)}, testLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tw := &trackingWriter{ResponseWriter: rec}
	tw.WriteHeader(http.StatusOK)
	_, _ = tw.Write([]byte("partial"))

	r.handleError(tw, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("connection reset"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestRouter_ClientCancelIsSilent(t *testing.T) {
	var failures atomic.Int32
	r, err := New(Config{Port: deadPort(t), OnFailure: func() { failures.Add(1) }}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	rec := httptest.NewRecorder()
	r.handleError(rec, req, context.Canceled)

	assert.Empty(t, rec.Body.String())
	assert.Zero(t, failures.Load())
}

func TestRouter_WebSocketPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		typ, msg, err := c.Read(ctx)
		if err != nil {
			return
		}
		_ = c.Write(ctx, typ, append([]byte("echo: "), msg...))
		_ = c.Close(websocket.StatusNormalClosure, "")
	}))
	defer upstream.Close()

	gw := httptest.NewServer(upstreamRouter(t, upstream, nil))
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(gw.URL, "http") + "/socket"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", string(msg))
}

func TestNew_RejectsBadPort(t *testing.T) {
	_, err := New(Config{Port: 0}, nil)
	assert.Error(t, err)
	_, err = New(Config{Port: 70000}, nil)
	assert.Error(t, err)
}

func TestTrackingWriter_InformationalDoesNotCommit(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &trackingWriter{ResponseWriter: rec}
	tw.WriteHeader(http.StatusContinue)
	assert.False(t, tw.wroteHeader)
	tw.WriteHeader(http.StatusOK)
	assert.True(t, tw.wroteHeader)
	assert.Equal(t, rec, tw.Unwrap())
}
