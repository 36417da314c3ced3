// ABOUTME: Entry point for notegate, the authentication gateway in front of the note app
// ABOUTME: Dispatches serve, init, setup, audit, and health sub-commands

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/notegate/internal/config"
	"github.com/2389/notegate/internal/gateway"
	"github.com/2389/notegate/internal/secret"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
             _
 _ __   ___ | |_ ___  __ _  __ _| |_ ___
| '_ \ / _ \| __/ _ \/ _' |/ _' | __/ _ \
| | | | (_) | ||  __/ (_| | (_| | ||  __/
|_| |_|\___/ \__\___|\__, |\__,_|\__\___|
                     |___/
`

func usage() {
	fmt.Println("Usage: notegate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the gateway")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  setup [--force]        Set the master password from the terminal")
	fmt.Println("  audit [--limit N]      Show recent audit log entries")
	fmt.Println("  health                 Check gateway health")
	fmt.Println()
	fmt.Printf("Config: $%s or %s\n", config.EnvConfigPath, config.DefaultPath())
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "setup":
		err = runSetup(ctx, os.Args[2:])
	case "audit":
		err = runAudit(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Upstream:  %s %s (port %d)\n", cfg.Upstream.Command, strings.Join(cfg.Upstream.Args, " "), cfg.Upstream.Port)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s\n", cfg.Storage.Dir)
	if cfg.Session.Signed {
		green.Print("    ▶ ")
		fmt.Println("Sessions:  signed")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting notegate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"upstream_port", cfg.Upstream.Port,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		if errors.Is(err, secret.ErrSecretFile) {
			logger.Error("cannot continue without the secret key file", "path", cfg.Storage.KeyPath(), "error", err)
		}
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// healthURL builds the local health endpoint URL from a listen address.
func healthURL(httpAddr string) string {
	host, port, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return "http://" + httpAddr + gateway.PathHealth
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + gateway.PathHealth
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var health struct {
		Status         string `json:"status"`
		SetupNeeded    bool   `json:"setup_needed"`
		SignedSessions bool   `json:"signed_sessions"`
		Uptime         string `json:"uptime"`
		Upstream       struct {
			Phase    string `json:"phase"`
			PID      int    `json:"pid"`
			Starts   int    `json:"starts"`
			LastExit string `json:"last_exit"`
		} `json:"upstream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	status := color.GreenString(health.Status)
	if health.Status != "ok" {
		status = color.YellowString(health.Status)
	}
	fmt.Printf("gateway:  %s (up %s)\n", status, health.Uptime)
	if health.SetupNeeded {
		fmt.Println("setup:    " + color.YellowString("master password not set"))
	}
	if health.SignedSessions {
		fmt.Println("sessions: signed")
	}
	fmt.Printf("upstream: %s", health.Upstream.Phase)
	if health.Upstream.PID > 0 {
		fmt.Printf(" pid=%d", health.Upstream.PID)
	}
	fmt.Printf(" starts=%d", health.Upstream.Starts)
	if health.Upstream.LastExit != "" {
		fmt.Printf(" last_exit=%q", health.Upstream.LastExit)
	}
	fmt.Println()
	return nil
}
