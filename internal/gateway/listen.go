// ABOUTME: Public listeners for the gateway: plain TCP or a Tailscale tsnet node
// ABOUTME: Adds operator hints to common bind failures

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

func (g *Gateway) listenTCP() (net.Listener, error) {
	addr := g.config.Server.HTTPAddr
	g.logger.Info("starting gateway", "http_addr", addr, "upstream", g.proxy.Target())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if hint := listenHint(err); hint != "" {
			g.logger.Error("cannot listen", "addr", addr, "hint", hint)
			return nil, fmt.Errorf("listening on %s: %w (%s)", addr, err, hint)
		}
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return ln, nil
}

// listenHint explains the bind errors operators hit most.
func listenHint(err error) string {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return "address already in use; stop the other process or change server.http_addr"
	case errors.Is(err, syscall.EACCES):
		return "permission denied; ports below 1024 need elevated privileges"
	default:
		return ""
	}
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// listenTailscale starts a tsnet node and returns its HTTP listener. On
// error the node stays in g.tsnetServer for closeResources.
func (g *Gateway) listenTailscale(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
	}

	stateDir := g.config.TailscaleStateDir()
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
		UserLogf:  func(format string, args ...any) { g.logger.Info(fmt.Sprintf(format, args...), "source", "tsnet") },
		Logf:      func(format string, args ...any) { g.logger.Debug(fmt.Sprintf(format, args...), "source", "tsnet") },
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.listenTailscaleTLS()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// listenTailscaleTLS serves HTTPS on :443 with the node's tailnet certificate.
func (g *Gateway) listenTailscaleTLS() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
