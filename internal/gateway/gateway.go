// ABOUTME: Gateway orchestrator wiring the poll loop, heartbeat, and dashboard API
// ABOUTME: Owns the session cache, activity store, and server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/familiar/internal/agent"
	"github.com/2389/familiar/internal/arbiter"
	"github.com/2389/familiar/internal/auth"
	"github.com/2389/familiar/internal/config"
	"github.com/2389/familiar/internal/heartbeat"
	"github.com/2389/familiar/internal/skills"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/taskctx"
	"github.com/2389/familiar/internal/telegram"
)

// chatClient is the messaging surface the poll loop drives. Satisfied by
// *telegram.Client; tests substitute fakes.
type chatClient interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// sessionCache is the agent surface shared by the poll loop, the heartbeat
// scheduler, and the dashboard. Satisfied by *agent.Cache.
type sessionCache interface {
	Invoke(ctx context.Context, label, prompt string, timeout time.Duration) (string, error)
	Status(now time.Time) agent.Status
	ExpireNow() bool
	Close()
}

// Gateway mediates between the chat frontend and the agent subprocess.
// It runs three loops: the Telegram long poll, the heartbeat scheduler,
// and the dashboard HTTP server.
type Gateway struct {
	config    *config.Config
	logger    *slog.Logger
	arb       *arbiter.Arbiter
	sessions  sessionCache
	scheduler *heartbeat.Scheduler
	chat      chatClient
	store     *store.Store

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// heartbeatPrompt is the resolved prompt text, kept for activity records.
	heartbeatPrompt string
}

// sessionFactory builds the cache's conversation factory from the agent
// config. Provider and model selectors travel as flags on the agent command
// line.
func sessionFactory(cfg config.AgentConfig, logger *slog.Logger) agent.Factory {
	args := append([]string{}, cfg.Args...)
	if cfg.Provider != "" {
		args = append(args, "--provider", cfg.Provider)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	return func(ctx context.Context) (agent.Conversation, error) {
		s, err := agent.NewSession(ctx, agent.SessionConfig{
			Command: cfg.Command,
			Args:    args,
			Dir:     cfg.WorkDir,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// New creates a Gateway from the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.New(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	chat, err := telegram.NewClient(telegram.ClientConfig{
		Token:  cfg.Telegram.Token,
		Logger: logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	arb := arbiter.New()
	sessions := agent.NewCache(agent.CacheConfig{
		Factory:    sessionFactory(cfg.Agent, logger),
		TTL:        cfg.Agent.SessionTTL,
		Supervisor: &agent.Supervisor{Logger: logger},
		Logger:     logger,
	})

	g := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		arb:      arb,
		sessions: sessions,
		chat:     chat,
		store:    s,
	}

	g.heartbeatPrompt = cfg.Heartbeat.Prompt
	if g.heartbeatPrompt == "" {
		g.heartbeatPrompt = heartbeat.DefaultPrompt
	}
	g.scheduler = heartbeat.New(heartbeat.Config{
		Interval: cfg.Heartbeat.Interval,
		Timeout:  cfg.Heartbeat.Timeout,
		Prompt:   cfg.Heartbeat.Prompt,
		Arbiter:  arb,
		Invoker:  sessions,
		Logger:   logger,
		OnResult: g.recordHeartbeat,
	})

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// routes builds the dashboard mux. Read endpoints are open; the operator
// controls sit behind the bearer-token middleware when a secret is set.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/status", g.handleStatus)
	mux.HandleFunc("/api/activity", g.handleActivity)

	var verifier *auth.Verifier
	if g.config.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier([]byte(g.config.Auth.JWTSecret))
		g.logger.Info("operator auth enabled for control endpoints")
	} else {
		g.logger.Warn("operator auth disabled - no auth.jwt_secret configured")
	}
	guard := auth.Middleware(verifier)
	mux.Handle("/api/heartbeat", guard(http.HandlerFunc(g.handleTriggerHeartbeat)))
	mux.Handle("/api/session/expire", guard(http.HandlerFunc(g.handleExpireSession)))

	return mux
}

// installSkills seeds the agent workspace with the bundled skill files.
// Failures are logged, not fatal; the familiar works without them.
func (g *Gateway) installSkills() {
	workdir := g.config.Agent.WorkDir
	if workdir == "" {
		g.logger.Debug("agent workdir not set, skipping skills install")
		return
	}
	if err := skills.Install(workdir, g.logger); err != nil {
		g.logger.Warn("installing bundled skills failed", "error", err)
	}
}

// recordHeartbeat persists one completed heartbeat run to the activity log.
func (g *Gateway) recordHeartbeat(ctx context.Context, reply string, elapsed time.Duration, err error) {
	taskID := taskctx.ID(ctx)
	if taskID == "" {
		taskID = taskctx.New()
	}

	ex := &store.Exchange{
		TaskID:      taskID,
		Kind:        string(arbiter.TaskHeartbeat),
		PromptChars: len([]rune(g.heartbeatPrompt)),
		ReplyChars:  len([]rune(reply)),
		Outcome:     store.OutcomeOK,
		Elapsed:     elapsed,
	}
	if err != nil {
		ex.Outcome = store.OutcomeError
		if errors.Is(err, agent.ErrCallTimeout) {
			ex.Outcome = store.OutcomeTimeout
		}
		ex.Error = err.Error()
	}
	g.recordExchange(ctx, ex)
}

// recordExchange writes one activity row, logging instead of failing the
// exchange when the database is unhappy.
func (g *Gateway) recordExchange(ctx context.Context, ex *store.Exchange) {
	if err := g.store.RecordExchange(ctx, ex); err != nil {
		taskctx.Logger(ctx, g.logger).Warn("recording exchange failed", "error", err)
	}
}

// Run starts the gateway loops and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the HTTP server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.installSkills()

	httpLn, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.pollLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		_ = g.scheduler.Run(loopCtx)
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)

	cancelLoops()
	if g.arb.Snapshot().Busy {
		// The in-flight call returns on its own; the watchdog bounds it.
		g.logger.Info("waiting for in-flight agent task to finish")
	}
	wg.Wait()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases the session, database, and
// tailscale resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.sessions.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// setupListener creates the dashboard listener based on configuration
// (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if
// not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "familiar", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the dashboard
// listener on the tailnet.
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

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
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
