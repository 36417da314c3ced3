// ABOUTME: Gateway composition root that wires credentials, sessions, supervisor, and proxy
// ABOUTME: Owns the gateway state and the HTTP server lifecycle from Run to Shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/2389/notegate/internal/auth"
	"github.com/2389/notegate/internal/config"
	"github.com/2389/notegate/internal/proxy"
	"github.com/2389/notegate/internal/secret"
	"github.com/2389/notegate/internal/store"
	"github.com/2389/notegate/internal/supervisor"
	"github.com/2389/notegate/internal/throttle"
	"github.com/2389/notegate/internal/webadmin"
)

// maxTrackedClients bounds the failed-login table.
const maxTrackedClients = 10000

// Upstream is the supervised note application as the gateway sees it.
// *supervisor.Supervisor implements it.
type Upstream interface {
	Start() error
	EnsureRunning() error
	Running() bool
	Status() supervisor.Status
	Shutdown(ctx context.Context) supervisor.Phase
}

// Gateway is the authenticating front door of the note application.
type Gateway struct {
	config     *config.Config
	creds      *store.CredentialStore
	auditor    store.Auditor
	auditDB    *store.SQLiteStore // nil when auditing is disabled
	authn      *auth.Authenticator
	sessions   *auth.CookieCodec
	logins     *throttle.Limiter // nil when gate.login_attempts is 0
	pages      *webadmin.Pages
	upstream   Upstream
	proxy      *proxy.Router
	httpServer *http.Server
	logger     *slog.Logger

	tsnetServer *tsnet.Server
	startedAt   time.Time

	// mu guards setupNeeded. It is set at startup and changed only by a
	// completed setup or by finding the master record missing at login.
	mu          sync.RWMutex
	setupNeeded bool

	// setupMu serializes the setup transition so two submissions cannot
	// both write a master record.
	setupMu sync.Mutex
}

// New creates a Gateway from configuration. The secret key file is loaded or
// created here; failing to do so is returned wrapped in secret.ErrSecretFile.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	sup := supervisor.New(supervisor.Config{
		Command:      cfg.Upstream.Command,
		Args:         cfg.Upstream.Args,
		Dir:          cfg.Upstream.Dir,
		Env:          cfg.Upstream.Env,
		Port:         cfg.Upstream.Port,
		PortEnv:      cfg.Upstream.PortEnv,
		StopTimeout:  cfg.Upstream.StopTimeout,
		Restart:      cfg.Upstream.Restart,
		RestartDelay: cfg.Upstream.RestartDelay,
	}, logger)
	return newGateway(cfg, sup, logger)
}

func newGateway(cfg *config.Config, upstream Upstream, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	secretText, err := secret.LoadOrCreateSecret(cfg.Storage.KeyPath(), logger)
	if err != nil {
		return nil, err
	}
	rootKey, err := secret.DeriveKey(secretText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", secret.ErrSecretFile, err)
	}
	sealer, err := secret.NewCipher(rootKey, logger)
	if err != nil {
		return nil, fmt.Errorf("creating credential cipher: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		upstream:  upstream,
		auditor:   store.NopAuditor{},
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}

	if !cfg.Audit.Disabled {
		db, err := store.NewSQLiteStore(cfg.AuditPath(), logger)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		gw.auditDB = db
		gw.auditor = db
	}

	if err := gw.init(sealer, rootKey, logger); err != nil {
		if gw.auditDB != nil {
			_ = gw.auditDB.Close()
		}
		return nil, err
	}
	return gw, nil
}

// init builds everything that sits on top of the cipher and the audit log.
func (g *Gateway) init(sealer *secret.Cipher, rootKey []byte, logger *slog.Logger) error {
	cfg := g.config

	creds, err := store.NewCredentialStore(store.CredentialStoreConfig{
		MasterPath: cfg.Storage.MasterPath(),
		UsersPath:  cfg.Storage.UsersPath(),
	}, sealer, g.auditor, logger)
	if err != nil {
		return err
	}
	g.creds = creds

	g.authn, err = auth.NewAuthenticator(creds, sealer, logger)
	if err != nil {
		return err
	}

	var signer *auth.SessionSigner
	if cfg.Session.Signed {
		key, err := secret.Subkey(rootKey, secret.PurposeSessionSigning)
		if err != nil {
			return fmt.Errorf("deriving session key: %w", err)
		}
		signer = auth.NewSessionSigner(key)
	}
	g.sessions = auth.NewCookieCodec(cfg.Session.MaxAge, signer, logger)

	if cfg.Gate.LoginAttempts > 0 {
		g.logins = throttle.New(cfg.Gate.LoginAttempts, cfg.Gate.LoginWindow, maxTrackedClients)
	}

	g.pages, err = webadmin.NewPages(webadmin.Options{
		Title:       cfg.UI.Title,
		LoginNotice: cfg.UI.LoginNotice,
	}, logger)
	if err != nil {
		return fmt.Errorf("loading pages: %w", err)
	}

	g.proxy, err = proxy.New(proxy.Config{
		Host:      cfg.Upstream.Host,
		Port:      cfg.Upstream.Port,
		OnFailure: g.reviveUpstream,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}

	hasMaster, err := creds.HasMaster()
	if err != nil {
		return fmt.Errorf("checking master credential: %w", err)
	}
	g.setupNeeded = !hasMaster

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return nil
}

// SetupNeeded reports whether the master credential still has to be set.
func (g *Gateway) SetupNeeded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.setupNeeded
}

func (g *Gateway) setSetupNeeded(v bool) {
	g.mu.Lock()
	g.setupNeeded = v
	g.mu.Unlock()
}

// reviveUpstream runs after a failed proxy round trip.
func (g *Gateway) reviveUpstream() {
	if g.SetupNeeded() {
		return
	}
	if err := g.upstream.EnsureRunning(); err != nil {
		g.logger.Warn("could not restart upstream", "error", err)
	}
}

// Run listens, starts the upstream if setup is complete, and serves until ctx
// is canceled or the server fails. It always shuts down before returning.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.listen(ctx)
	if err != nil {
		return errors.Join(err, g.closeResources())
	}

	if g.SetupNeeded() {
		g.logger.Info("master password not set, waiting for setup", "path", auth.PathSetup)
	} else if err := g.upstream.Start(); err != nil {
		g.logger.Error("upstream failed to start, serving degraded", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// ctx is already canceled; Shutdown applies its own bound.
	shutdownErr := g.Shutdown(context.Background())
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown drains HTTP and stops the upstream concurrently under
// shutdown.timeout. If the drain overruns, open connections are closed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "timeout", g.config.Shutdown.Timeout)

	ctx, cancel := context.WithTimeout(ctx, g.config.Shutdown.Timeout)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error {
		if err := g.httpServer.Shutdown(ctx); err != nil {
			g.logger.Warn("HTTP drain incomplete, closing connections", "error", err)
			_ = g.httpServer.Close()
			return fmt.Errorf("HTTP shutdown: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		phase := g.upstream.Shutdown(ctx)
		g.logger.Info("upstream stopped", "phase", phase)
		return nil
	})

	return errors.Join(eg.Wait(), g.closeResources())
}

// closeResources releases what New and listen opened besides the HTTP server
// and the upstream.
func (g *Gateway) closeResources() error {
	var errs []error
	g.logins.Close()
	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if g.auditDB != nil {
		if err := g.auditDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit log close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Handler returns the gateway's full HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.registerRoutes(mux)
	return g.recoverPanics(g.gate(mux))
}

// listen opens the public listener: a tailnet node when tailscale is
// enabled, else TCP on server.http_addr.
func (g *Gateway) listen(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.listenTailscale(ctx)
	}
	return g.listenTCP()
}
