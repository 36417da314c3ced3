// ABOUTME: Offline sub-commands: init writes a config, setup sets the master password,
// ABOUTME: audit prints recent entries from the audit database

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/notegate/internal/auth"
	"github.com/2389/notegate/internal/config"
	"github.com/2389/notegate/internal/secret"
	"github.com/2389/notegate/internal/store"
)

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

var errMasterExists = errors.New("master password already set (use --force to replace it)")

func promptPassword(label string) (string, error) {
	fmt.Print(label)
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// openCredentials builds the credential store the same way the gateway does,
// creating the key file on first use.
func openCredentials(cfg *config.Config, auditor store.Auditor, logger *slog.Logger) (*store.CredentialStore, error) {
	secretText, err := secret.LoadOrCreateSecret(cfg.Storage.KeyPath(), logger)
	if err != nil {
		return nil, err
	}
	sealer, err := secret.FromSecret(secretText, logger)
	if err != nil {
		return nil, err
	}
	return store.NewCredentialStore(store.CredentialStoreConfig{
		MasterPath: cfg.Storage.MasterPath(),
		UsersPath:  cfg.Storage.UsersPath(),
	}, sealer, auditor, logger)
}

// setMasterPassword validates and stores a new master password. An existing
// record is only replaced when force is set.
func setMasterPassword(creds *store.CredentialStore, password, confirm string, force bool) error {
	if err := auth.ValidateMasterPassword(password, confirm); err != nil {
		return err
	}
	exists, err := creds.HasMaster()
	if err != nil {
		return fmt.Errorf("checking master record: %w", err)
	}
	if exists && !force {
		return errMasterExists
	}
	if err := creds.WriteMaster(password); err != nil {
		return fmt.Errorf("writing master record: %w", err)
	}
	if err := creds.EnsureUsersFile(); err != nil {
		return fmt.Errorf("creating users file: %w", err)
	}
	return nil
}

func runSetup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	force := fs.Bool("force", false, "replace an existing master password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	var auditor store.Auditor = store.NopAuditor{}
	if !cfg.Audit.Disabled {
		db, err := store.NewSQLiteStore(cfg.AuditPath(), logger)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer db.Close()
		auditor = db
	}

	creds, err := openCredentials(cfg, auditor, logger)
	if err != nil {
		return err
	}

	password, err := promptPassword("Master password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}

	if err := setMasterPassword(creds, password, confirm, *force); err != nil {
		return err
	}

	if err := auditor.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:  store.ActorSystem,
		Action: store.AuditMasterConfigured,
		Detail: map[string]any{"source": "cli", "force": *force},
	}); err != nil {
		logger.Warn("recording audit entry failed", "error", err)
	}

	fmt.Println(color.GreenString("✓") + " Master password set.")
	fmt.Println("  Restart the gateway if it is running.")
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "number of entries to show")
	actor := fs.String("actor", "", "only show entries by this actor")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Audit.Disabled {
		return errors.New("audit log is disabled in the config")
	}

	logger := setupLogger(cfg.Logging)
	db, err := store.NewSQLiteStore(cfg.AuditPath(), logger)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer db.Close()

	filter := store.AuditFilter{Limit: *limit}
	if *actor != "" {
		filter.Actor = actor
	}
	entries, err := db.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}

	return printAuditEntries(os.Stdout, entries)
}

func printAuditEntries(out io.Writer, entries []store.AuditEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tTARGET\tREMOTE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Actor, e.Action, dash(e.Target), dash(e.RemoteAddr))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runInit() error {
	configPath := config.DefaultPath()
	reader := bufio.NewReader(os.Stdin)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists: %s\n", configPath)
		fmt.Print("Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	defaults := config.Default()

	fmt.Println("notegate configuration")
	fmt.Println("======================")
	fmt.Println()

	httpAddr := prompt(reader, "HTTP listen address", defaults.Server.HTTPAddr)
	command := prompt(reader, "Upstream command", defaults.Upstream.Command+" "+strings.Join(defaults.Upstream.Args, " "))
	dir := prompt(reader, "Upstream working directory", ".")
	portStr := prompt(reader, "Upstream port", strconv.Itoa(defaults.Upstream.Port))
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}
	storageDir := prompt(reader, "Storage directory", defaults.Storage.Dir)

	useTailscale := strings.ToLower(prompt(reader, "Serve on a tailnet with Tailscale? [y/N]", "n")) == "y"
	hostname := defaults.Tailscale.Hostname
	if useTailscale {
		hostname = prompt(reader, "Tailscale hostname", hostname)
	}

	content := renderInitConfig(initAnswers{
		HTTPAddr:   httpAddr,
		Command:    strings.Fields(command),
		Dir:        dir,
		Port:       port,
		StorageDir: storageDir,
		Tailscale:  useTailscale,
		Hostname:   hostname,
	})

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  notegate serve       # then open the gateway and set the master password")
	fmt.Println("  notegate setup       # or set it from this terminal")
	return nil
}

type initAnswers struct {
	HTTPAddr   string
	Command    []string
	Dir        string
	Port       int
	StorageDir string
	Tailscale  bool
	Hostname   string
}

func renderInitConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# notegate configuration\n\n")
	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n\n", a.HTTPAddr)

	b.WriteString("upstream:\n")
	if len(a.Command) > 0 {
		fmt.Fprintf(&b, "  command: %q\n", a.Command[0])
		if len(a.Command) > 1 {
			b.WriteString("  args:\n")
			for _, arg := range a.Command[1:] {
				fmt.Fprintf(&b, "    - %q\n", arg)
			}
		}
	}
	fmt.Fprintf(&b, "  dir: %q\n", a.Dir)
	fmt.Fprintf(&b, "  port: %d\n\n", a.Port)

	b.WriteString("storage:\n")
	fmt.Fprintf(&b, "  dir: %q\n\n", a.StorageDir)

	if a.Tailscale {
		b.WriteString("tailscale:\n")
		b.WriteString("  enabled: true\n")
		fmt.Fprintf(&b, "  hostname: %q\n", a.Hostname)
		b.WriteString("  auth_key: \"${TS_AUTHKEY}\"\n\n")
	}

	b.WriteString("logging:\n")
	b.WriteString("  level: \"info\"\n")
	b.WriteString("  format: \"text\"\n")
	return b.String()
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return defaultVal
	}
	return answer
}
