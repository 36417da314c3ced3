// ABOUTME: Reverse proxy from the gateway to the supervised upstream application
// ABOUTME: Rewrites origin, passes upgrades through, and maps failures to a 502 page

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID carries a per-request identifier to the upstream.
const HeaderRequestID = "X-Request-Id"

// Config locates the upstream.
type Config struct {
	Host string
	Port int
	// OnFailure runs after a failed upstream round trip, before the error
	// page is written. The gateway uses it to restart a dead child.
	OnFailure func()
}

// Router forwards requests to the upstream.
type Router struct {
	target    *url.URL
	port      int
	rp        *httputil.ReverseProxy
	onFailure func()
	logger    *slog.Logger
}

// New creates a Router for the upstream at host:port.
func New(cfg Config, logger *slog.Logger) (*Router, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid upstream port %d", cfg.Port)
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if logger == nil {
		logger = slog.Default()
	}

	target := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(cfg.Port))}
	r := &Router{
		target:    target,
		port:      cfg.Port,
		onFailure: cfg.OnFailure,
		logger:    logger.With("component", "proxy", "target", target.Host),
	}

	r.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// SetURL also replaces the Host header with the upstream's.
			pr.SetURL(target)
			pr.SetXForwarded()
			if pr.In.Header.Get(HeaderRequestID) == "" {
				pr.Out.Header.Set(HeaderRequestID, uuid.NewString())
			}
		},
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		FlushInterval: -1,
		ErrorHandler:  r.handleError,
	}
	return r, nil
}

// Target returns the upstream address as host:port.
func (r *Router) Target() string {
	return r.target.Host
}

// ServeHTTP forwards the request upstream.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.rp.ServeHTTP(&trackingWriter{ResponseWriter: w}, req)
}

func (r *Router) handleError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) || req.Context().Err() != nil {
		r.logger.Debug("client went away during proxy", "path", req.URL.Path, "error", err)
		return
	}

	r.logger.Error("upstream request failed",
		"method", req.Method,
		"path", req.URL.Path,
		"error", err,
	)

	if r.onFailure != nil {
		r.onFailure()
	}

	if tw, ok := w.(*trackingWriter); ok && tw.wroteHeader {
		r.logger.Warn("response already started, cannot send error page", "path", req.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusBadGateway)
	if err := renderErrorPage(w, errorPageData{
		Target: r.target.Host,
		Port:   r.port,
		Detail: err.Error(),
	}); err != nil {
		r.logger.Debug("writing error page failed", "error", err)
	}
}

// trackingWriter records whether the status line has gone out.
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackingWriter) WriteHeader(code int) {
	// 1xx responses do not commit the final status
	if code >= 200 {
		t.wroteHeader = true
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush and Hijack on the
// underlying writer, which the reverse proxy needs for upgrades.
func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
