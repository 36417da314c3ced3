// ABOUTME: Cookie codec for gateway sessions in plain or signed mode
// ABOUTME: Reads, writes, and clears the auth / is_master pair and optional token

package auth

import (
	"log/slog"
	"net/http"
	"time"
)

// Cookie names.
const (
	CookieAuth     = "auth"
	CookieIsMaster = "is_master"
	CookieSession  = "session"
)

// DefaultSessionMaxAge is how long a login lasts.
const DefaultSessionMaxAge = time.Hour

// Session is the identity carried by a request.
type Session struct {
	Authenticated bool
	Master        bool
	Username      string // empty for master sessions and in plain mode
}

// Actor names the session for logs and the audit trail.
func (s Session) Actor() string {
	switch {
	case !s.Authenticated:
		return "anonymous"
	case s.Master:
		return "master"
	case s.Username != "":
		return s.Username
	default:
		return "user"
	}
}

// CookieCodec maps sessions to cookies and back.
type CookieCodec struct {
	maxAge time.Duration
	signer *SessionSigner // nil in plain mode
	logger *slog.Logger
}

// NewCookieCodec creates a codec. A nil signer selects plain mode, where the
// cookie pair alone is the session.
func NewCookieCodec(maxAge time.Duration, signer *SessionSigner, logger *slog.Logger) *CookieCodec {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CookieCodec{
		maxAge: maxAge,
		signer: signer,
		logger: logger.With("component", "session"),
	}
}

// Signed reports whether the codec issues signed session tokens.
func (c *CookieCodec) Signed() bool {
	return c.signer != nil
}

// Read extracts the session from the request's cookies. Anything missing or
// inconsistent reads as unauthenticated.
func (c *CookieCodec) Read(r *http.Request) Session {
	authCookie, err := r.Cookie(CookieAuth)
	if err != nil || authCookie.Value != "1" {
		return Session{}
	}
	master := false
	if mc, err := r.Cookie(CookieIsMaster); err == nil {
		master = mc.Value == "true"
	}

	if c.signer == nil {
		return Session{Authenticated: true, Master: master}
	}

	tc, err := r.Cookie(CookieSession)
	if err != nil {
		return Session{}
	}
	sess, err := c.signer.Verify(tc.Value)
	if err != nil {
		c.logger.Debug("rejecting session token", "error", err)
		return Session{}
	}
	if sess.Master != master {
		c.logger.Warn("session cookie tier disagrees with token", "remote_addr", r.RemoteAddr)
		return Session{}
	}
	return sess
}

// Write sets the session cookies on the response.
func (c *CookieCodec) Write(w http.ResponseWriter, r *http.Request, sess Session) error {
	isMaster := "false"
	if sess.Master {
		isMaster = "true"
	}
	maxAge := int(c.maxAge / time.Second)

	if c.signer != nil {
		token, err := c.signer.Sign(sess, c.maxAge)
		if err != nil {
			return err
		}
		http.SetCookie(w, c.cookie(r, CookieSession, token, maxAge))
	}
	http.SetCookie(w, c.cookie(r, CookieAuth, "1", maxAge))
	http.SetCookie(w, c.cookie(r, CookieIsMaster, isMaster, maxAge))
	return nil
}

// Clear expires every session cookie.
func (c *CookieCodec) Clear(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{CookieAuth, CookieIsMaster, CookieSession} {
		http.SetCookie(w, c.cookie(r, name, "", -1))
	}
}

func (c *CookieCodec) cookie(r *http.Request, name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}
