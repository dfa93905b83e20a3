// ABOUTME: Entry point for the inbox-gateway server and its setup commands
// ABOUTME: serve runs the gateway; init, bootstrap and token manage config and agents

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/config"
	"github.com/2389/inbox-gateway/internal/gateway"
	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/users"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _       _                                 _
 (_)_ __ | |__   _____  __      __ _  __ _| |_ _____      ____ _ _   _
 | | '_ \| '_ \ / _ \ \/ /____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | | | | |_) | (_) >  <_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_|_| |_|_.__/ \___/_/\_\     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

// bootstrapTokenTTL is how long tokens printed by bootstrap and token last.
const bootstrapTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the gateway config file.
// Priority: INBOX_CONFIG env var > XDG_CONFIG_HOME/inbox/gateway.yaml > ~/.config/inbox/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("INBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "inbox", "gateway.yaml")
}

// getDataPath returns the inbox data directory.
// Priority: XDG_DATA_HOME/inbox > ~/.local/share/inbox
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "inbox")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: inbox-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                                Start the gateway server")
		fmt.Println("  init                                 Create a new config file interactively")
		fmt.Println("  bootstrap --email EMAIL --name NAME  Create the first admin and print a token")
		fmt.Println("  token --email EMAIL                  Issue a fresh token for an existing user")
		fmt.Println("  user add --email EMAIL --name NAME   Create an agent (--role admin for an admin)")
		fmt.Println("  health                               Check gateway health")
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
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "user":
		err = runUser(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
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
	configPath := getConfigPath()

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
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("WhatsApp:  ")
	if cfg.WhatsAppEnabled() {
		cyan.Println(cfg.WhatsApp.PhoneNumberID)
	} else {
		yellow.Println("not configured (sends will fail)")
	}
	if cfg.Events.AMQPURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("AMQP:      exchange %s\n", cfg.Events.AMQPExchange)
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

	logger.Info("starting inbox-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tailscale", cfg.Tailscale.Enabled,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level, out: os.Stdout}
	}

	return slog.New(handler)
}

// colorHandler provides colorized console log output.
type colorHandler struct {
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, prefix, a)
		return true
	})

	buf.WriteString("\n")

	logMu.Lock()
	defer logMu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

// logMu serializes writes from every handler derived from the root one.
var logMu sync.Mutex

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return errors.New("health needs server.http_addr; tailscale-only gateways are checked over the tailnet")
	}

	for _, path := range []string{"/health", "/health/ready"} {
		url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s returned status %d", path, resp.StatusCode)
		}
		fmt.Printf("%-14s %s\n", path, strings.TrimSpace(string(body)))
	}
	return nil
}

// parseFlags reads --key value and --key=value pairs for the given keys.
func parseFlags(args []string, keys ...string) (map[string]string, error) {
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}

	values := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !allowed[key] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", key)
			}
			value = args[i+1]
			i++
		}
		values[key] = strings.TrimSpace(value)
	}
	return values, nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if missing)
// 2. Creates the database and the first admin user
// 3. Prints a bearer token for that admin
func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "email", "name")
	if err != nil {
		return err
	}
	email, name := flags["email"], flags["name"]
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("--email with a valid address is required")
	}
	if name == "" {
		name = email
	}
	if len(name) > 100 {
		return errors.New("name exceeds maximum length of 100 characters")
	}

	configPath := getConfigPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeBootstrapConfig(configPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	count, err := s.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking users: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d user(s) exist; use the token command instead", count)
	}

	user := &store.User{Email: email, FullName: name, Role: store.RoleAdmin, IsActive: true}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}
	green.Printf("  ✓ Created admin: %s <%s>\n", user.FullName, user.Email)

	token, claims, err := issueToken(cfg, user.ID, bootstrapTokenTTL)
	if err != nil {
		return err
	}

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin")
	cyan.Println("  -----")
	fmt.Printf("  ID:      %d\n", user.ID)
	fmt.Printf("  Email:   %s\n", user.Email)
	fmt.Printf("  Role:    %s\n", user.Role)
	fmt.Printf("  Expires: %s\n", claims.ExpiresAt.Format("Jan 02, 2006"))
	fmt.Printf("  Token:   %s\n", token)
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    inbox-gateway serve    # start the gateway")
	fmt.Println("    curl -H \"Authorization: Bearer $TOKEN\" localhost:8080/api/users/me")
	fmt.Println()
	return nil
}

// runToken issues a new token for an existing active user.
func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "email", "ttl")
	if err != nil {
		return err
	}
	if flags["email"] == "" {
		return errors.New("--email is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ttl := bootstrapTokenTTL
	if raw := flags["ttl"]; raw != "" {
		if ttl, err = time.ParseDuration(raw); err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	user, err := s.GetUserByEmail(ctx, flags["email"])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no user with email %s", flags["email"])
	}
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive {
		return fmt.Errorf("user %s is inactive", user.Email)
	}

	token, _, err := issueToken(cfg, user.ID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// runUser manages accounts offline. Only "add" is supported; admins use
// the /api/users endpoints for everything else.
func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "add" {
		return errors.New("usage: inbox-gateway user add --email EMAIL --name NAME [--role agent|admin]")
	}
	flags, err := parseFlags(args[1:], "email", "name", "role")
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	user, err := addUser(ctx, s, flags)
	if err != nil {
		return err
	}
	token, claims, err := issueToken(cfg, user.ID, bootstrapTokenTTL)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created %s: %s <%s>\n", user.Role, user.FullName, user.Email)
	fmt.Printf("  ID:      %d\n", user.ID)
	fmt.Printf("  Expires: %s\n", claims.ExpiresAt.Format("Jan 02, 2006"))
	fmt.Printf("  Token:   %s\n", token)
	return nil
}

// addUser creates an account from user add flags.
func addUser(ctx context.Context, s store.Store, flags map[string]string) (*store.User, error) {
	if flags["email"] == "" || flags["name"] == "" {
		return nil, errors.New("--email and --name are required")
	}
	return users.New(s, slog.New(slog.DiscardHandler)).Create(ctx, users.CreateRequest{
		Email:    flags["email"],
		FullName: flags["name"],
		Role:     store.Role(flags["role"]),
	})
}

func issueToken(cfg *config.Config, userID int64, ttl time.Duration) (string, *auth.Claims, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), nil)
	if err != nil {
		return "", nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, claims, err := verifier.Generate(userID, ttl)
	if err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}
	return token, claims, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func writeBootstrapConfig(configPath string) error {
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	dataPath := getDataPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# inbox-gateway configuration
# Generated by inbox-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "24h"

whatsapp:
  api_token: "${WHATSAPP_API_TOKEN}"
  phone_number_id: "${WHATSAPP_PHONE_NUMBER_ID}"
  verify_token: "${WHATSAPP_VERIFY_TOKEN}"

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "inbox.db"), secret)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("inbox-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "inbox.db"))

	fmt.Println("\n--- WhatsApp Cloud API ---")
	phoneID := prompt(reader, "Phone number ID (leave empty to configure later)", "")
	apiToken := ""
	if phoneID != "" {
		apiToken = prompt(reader, "API access token", "${WHATSAPP_API_TOKEN}")
	}
	verifyToken := prompt(reader, "Webhook verify token", "${WHATSAPP_VERIFY_TOKEN}")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "inbox-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS, needed for webhooks)?", "yes"))
	}

	fmt.Println("\n--- Event Relay ---")
	amqpURL := prompt(reader, "AMQP URL (leave empty to disable)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# inbox-gateway configuration\n")
	cfg.WriteString("# Generated by inbox-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", secret)
	cfg.WriteString("  token_ttl: \"24h\"\n\n")

	cfg.WriteString("whatsapp:\n")
	if phoneID != "" {
		fmt.Fprintf(&cfg, "  phone_number_id: %q\n", phoneID)
		fmt.Fprintf(&cfg, "  api_token: %q\n", apiToken)
	}
	fmt.Fprintf(&cfg, "  verify_token: %q\n", verifyToken)
	fmt.Fprintf(&cfg, "  request_timeout: %q\n\n", config.DefaultRequestTimeout.String())

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	if amqpURL != "" {
		cfg.WriteString("events:\n")
		fmt.Fprintf(&cfg, "  amqp_url: %q\n", amqpURL)
		fmt.Fprintf(&cfg, "  amqp_exchange: %q\n\n", config.DefaultAMQPExchange)
	}

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	fmt.Fprintf(&cfg, "  path: %q\n", config.DefaultMetricsPath)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  inbox-gateway bootstrap --email you@example.com --name \"Your Name\"")
	fmt.Println("  inbox-gateway serve")

	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
