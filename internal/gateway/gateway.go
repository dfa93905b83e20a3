// ABOUTME: Gateway orchestrator that wires the store, services and the HTTP server
// ABOUTME: Manages the listener (TCP or Tailscale), event fan-out and shutdown lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/config"
	"github.com/2389/inbox-gateway/internal/conversation"
	"github.com/2389/inbox-gateway/internal/dedupe"
	"github.com/2389/inbox-gateway/internal/events"
	"github.com/2389/inbox-gateway/internal/metrics"
	"github.com/2389/inbox-gateway/internal/readstate"
	"github.com/2389/inbox-gateway/internal/realtime"
	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/unread"
	"github.com/2389/inbox-gateway/internal/users"
	"github.com/2389/inbox-gateway/internal/whatsapp"
)

// dedupeMaxEntries bounds the webhook redelivery cache.
const dedupeMaxEntries = 100_000

// eventRelay mirrors events to an external broker.
type eventRelay interface {
	events.Publisher
	Healthy() bool
	Close() error
}

// Gateway orchestrates the inbox-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	provider    whatsapp.Provider
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	broadcaster *events.Broadcaster
	relay       eventRelay
	publisher   events.Publisher

	verifier    *auth.JWTVerifier
	revocations *auth.Revocations

	// seen drops webhook redeliveries before they reach the store
	seen *dedupe.Cache

	conversation *conversation.Service
	reconciler   *readstate.Reconciler
	unread       *unread.Engine
	users        *users.Service
	hub          *realtime.Hub

	// webhookURL is logged at startup so operators can register it
	webhookURL string
}

// Option customizes a Gateway at construction time.
type Option func(*Gateway)

// WithProvider replaces the WhatsApp client built from config.
func WithProvider(p whatsapp.Provider) Option {
	return func(g *Gateway) {
		g.provider = p
	}
}

// WithStore uses s instead of opening database.path. The gateway closes it
// on shutdown.
func WithStore(s store.Store) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// initStore creates and returns a store based on config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// unconfiguredProvider fails every send so the API reports 502 instead of
// silently dropping outbound messages.
type unconfiguredProvider struct{}

var errNotConfigured = &whatsapp.ProviderError{Status: http.StatusServiceUnavailable, Message: "whatsapp is not configured"}

func (unconfiguredProvider) SendText(context.Context, string, string) (string, error) {
	return "", errNotConfigured
}

func (unconfiguredProvider) SendMedia(context.Context, string, string, string, string) (string, error) {
	return "", errNotConfigured
}

func (unconfiguredProvider) MarkRead(context.Context, string) error {
	return errNotConfigured
}

// initProvider builds the WhatsApp client unless one was injected. The
// returned acker is nil when receipts cannot be sent.
func (g *Gateway) initProvider() readstate.Acker {
	if g.provider != nil {
		return g.provider
	}
	if !g.config.WhatsAppEnabled() {
		g.logger.Warn("whatsapp api_token not configured - outbound sends will fail")
		g.provider = unconfiguredProvider{}
		return nil
	}
	g.provider = whatsapp.NewClient(whatsapp.Config{
		APIURL:        g.config.WhatsApp.APIURL,
		APIToken:      g.config.WhatsApp.APIToken,
		PhoneNumberID: g.config.WhatsApp.PhoneNumberID,
		Timeout:       g.config.WhatsApp.RequestTimeout,
	}, g.logger)
	return g.provider
}

// initPublisher fans events out to local subscribers and, when configured,
// to the AMQP exchange.
func (g *Gateway) initPublisher() error {
	g.broadcaster = events.NewBroadcaster(g.logger)
	g.publisher = g.broadcaster

	if g.config.Events.AMQPURL == "" {
		return nil
	}
	relay, err := events.DialAMQPRelay(g.config.Events.AMQPURL, g.config.Events.AMQPExchange, g.logger)
	if err != nil {
		return fmt.Errorf("connecting event relay: %w", err)
	}
	g.relay = relay
	g.publisher = events.Fanout{g.broadcaster, relay}
	g.logger.Info("amqp event relay enabled", "exchange", g.config.Events.AMQPExchange)
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		config: cfg,
		logger: logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.store == nil {
		s, err := initStore(cfg)
		if err != nil {
			return nil, err
		}
		g.store = s
	}

	g.revocations = auth.NewRevocations()
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), g.revocations)
	if err != nil {
		g.closeComponents()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	g.verifier = verifier

	if err := g.initPublisher(); err != nil {
		g.closeComponents()
		return nil, err
	}

	dedupeTTL := cfg.WhatsApp.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = config.DefaultDedupeTTL
	}
	g.seen = dedupe.New(dedupeTTL, dedupeMaxEntries)

	acker := g.initProvider()
	g.conversation = conversation.New(g.store, g.provider, g.seen, g.publisher, logger)
	g.reconciler = readstate.New(g.store, acker, g.publisher, logger)
	g.unread = unread.NewEngine(g.store, logger)
	g.users = users.New(g.store, logger)
	g.hub = realtime.NewHub(g.broadcaster, realtime.Config{AllowedOrigins: cfg.Realtime.AllowedOrigins}, logger)

	g.webhookURL = "http://" + cfg.Server.HTTPAddr + "/webhook"
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Handler returns the gateway's routes wrapped in request metrics.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated: health, provider webhook, metrics scrape
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /webhook", g.handleWebhookVerify)
	mux.HandleFunc("POST /webhook", g.handleWebhook)
	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, metrics.Handler())
	}

	authMiddleware := auth.HTTPAuthMiddleware(g.store, g.verifier, g.logger)
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}
	requireAdmin := auth.RequireAdminHTTP()
	admin := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(requireAdmin(h)))
	}

	api("GET /api/conversations", g.handleListConversations)
	api("GET /api/conversations/mine", g.handleMyConversations)
	api("GET /api/conversations/{id}", g.handleGetConversation)
	api("GET /api/conversations/{id}/messages", g.handleConversationMessages)
	api("GET /api/conversations/{id}/activity", g.handleConversationActivity)
	api("PATCH /api/conversations/{id}/assign", g.handleAssignConversation)
	api("PATCH /api/conversations/{id}/status", g.handleSetConversationStatus)
	api("POST /api/conversations/{id}/close", g.handleCloseConversation)
	api("POST /api/conversations/{id}/reopen", g.handleReopenConversation)
	api("POST /api/conversations/{id}/read", g.handleMarkConversationRead)

	api("POST /api/messages/send", g.handleSendMessage)
	api("POST /api/messages/send-media", g.handleSendMedia)
	api("POST /api/messages/{id}/read", g.handleMarkMessageRead)
	api("GET /api/messages/stats", g.handleMessageStats)

	api("GET /api/unread/count", g.handleUnreadCount)
	api("GET /api/unread/messages", g.handleUnreadMessages)
	api("GET /api/unread/summary", g.handleUnreadSummary)

	api("GET /api/customers", g.handleListCustomers)
	api("GET /api/customers/{id}", g.handleGetCustomer)
	api("PATCH /api/customers/{id}", g.handleRenameCustomer)

	api("GET /api/users/me", g.handleMe)
	admin("GET /api/users", g.handleListUsers)
	admin("POST /api/users", g.handleCreateUser)
	admin("GET /api/users/stats", g.handleUserStats)
	admin("GET /api/users/{id}", g.handleGetUser)
	admin("PATCH /api/users/{id}", g.handleUpdateUser)
	admin("PUT /api/users/{id}/role", g.handleSetUserRole)
	admin("PUT /api/users/{id}/toggle-status", g.handleToggleUserStatus)
	api("POST /api/auth/logout", g.handleLogout)

	api("GET /api/events", g.handleEvents)
	mux.Handle("GET /ws", authMiddleware(g.hub))

	return metrics.Middleware(mux)
}

// Verifier exposes the token issuer for CLI bootstrap.
func (g *Gateway) Verifier() *auth.JWTVerifier {
	return g.verifier
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	g.logger.Info("register this URL as the WhatsApp webhook", "webhook_url", g.webhookURL)

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

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "inbox-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
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
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updateWebhookURLFromStatus(tsCfg, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
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

// updateWebhookURLFromStatus points the advertised webhook at the node's DNS name.
func (g *Gateway) updateWebhookURLFromStatus(tsCfg config.TailscaleConfig, status *ipnstate.Status) {
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	scheme := "http"
	if tsCfg.HTTPS || tsCfg.Funnel {
		scheme = "https"
	}
	g.webhookURL = scheme + "://" + strings.TrimSuffix(status.Self.DNSName, ".") + "/webhook"
	if !tsCfg.Funnel {
		g.logger.Warn("tailscale funnel disabled - the webhook is only reachable inside the tailnet")
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases everything except the HTTP server. Safe on a
// partially constructed gateway.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.hub != nil {
		g.hub.Close()
	}
	if g.broadcaster != nil {
		g.broadcaster.Close()
	}
	if g.relay != nil {
		errs = appendCloseError(errs, "event relay close", g.relay.Close())
	}
	if g.seen != nil {
		g.seen.Close()
	}
	if g.revocations != nil {
		g.revocations.Close()
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
// Live streams are closed first so Shutdown does not wait on them.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if g.hub != nil {
		g.hub.Close()
	}
	if g.broadcaster != nil {
		g.broadcaster.Close()
	}

	var errs []error
	if g.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n, err := g.store.CountUsers(r.Context())
	if err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	if g.relay != nil && !g.relay.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("event relay disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users)", n)
}
