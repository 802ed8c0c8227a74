package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxResubscribeAttempts bounds how many times the Controller will
// resubscribe to the host's event stream after an unexpected drop
// before giving up and letting the error surface.
const maxResubscribeAttempts = 3

// runAdapterWithRetry runs adapter.Run and, on an unexpected host-stream
// drop (errHostStreamClosed), resubscribes with exponential backoff up
// to maxResubscribeAttempts before giving up. A clean shutdown (ctx
// cancelled) always returns nil. Kept out of EventBusAdapter itself so
// the core stays ignorant of host-specific reconnection semantics — the
// read loop reports the drop, the caller decides whether to retry.
func runAdapterWithRetry(ctx context.Context, adapter *EventBusAdapter, logger *slog.Logger) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		err := adapter.Run(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if attempt >= maxResubscribeAttempts {
			logger.Error("bridge giving up on host event stream after repeated drops", "attempts", attempt+1)
			return err
		}
		logger.Warn("host event stream dropped, resubscribing", "attempt", attempt+1, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
	}
}

// Config is the bridge's single required configuration input, plus the
// one optional tunable the design notes allow.
type Config struct {
	// Port is the loopback listen port. Zero disables the bridge.
	Port int
	// QueueCapacity bounds each peer's outbound queue. Zero uses the
	// Registry's own default.
	QueueCapacity int
}

// Controller binds the HTTP listener, wires the Event Bus Adapter
// subscription, and guarantees graceful shutdown. It is the only piece
// of the core that owns goroutines.
type Controller struct {
	cfg    Config
	host   Host
	logger *slog.Logger

	registry    *Registry
	arbiter     *Arbiter
	broadcaster *Broadcaster
	adapter     *EventBusAdapter
	httpServer  *http.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewController assembles every bridge-core component around a Host.
func NewController(host Host, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry(cfg.QueueCapacity, logger)
	arbiter := NewArbiter(host.Bus(), logger)
	broadcaster := NewBroadcaster(registry, host.SessionID(), logger)
	adapter := NewEventBusAdapter(host, broadcaster, arbiter, logger)
	router := NewInputRouter(host, arbiter, logger)

	card := AgentCard{
		Name:               "thane-session-bridge",
		Description:        "Live session bridge exposing the host agent's event stream and input to external peers.",
		Version:            "0.1.0",
		Capabilities:       AgentCapabilities{Streaming: true, Extensions: []AgentExtension{{URI: "urn:thane:bridge:confirmation", Description: "Tool-confirmation arbitration", Required: true}}},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []AgentSkill{
			{ID: "session", Name: "Session bridge", Description: "Observe and participate in the host session", Tags: []string{"bridge"}, InputModes: []string{"text"}, OutputModes: []string{"text"}},
		},
	}

	srv := NewServer(registry, router, host.SessionID(), card, logger)

	return &Controller{
		cfg:         cfg,
		host:        host,
		logger:      logger,
		registry:    registry,
		arbiter:     arbiter,
		broadcaster: broadcaster,
		adapter:     adapter,
		httpServer: &http.Server{
			Handler:      srv.Mux(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming endpoints manage their own deadlines
		},
	}
}

// Start binds the loopback listener and begins serving. It returns once
// the listener is bound; serving and event fan-out continue on
// background goroutines supervised by an errgroup. A bind error is
// returned synchronously so the host can decide how to react.
func (c *Controller) Start(ctx context.Context) error {
	if c.cfg.Port == 0 {
		c.logger.Info("bridge disabled, no port configured")
		return nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", c.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	group, groupCtx := errgroup.WithContext(runCtx)
	c.group = group

	group.Go(func() error {
		return runAdapterWithRetry(groupCtx, c.adapter, c.logger)
	})

	group.Go(func() error {
		err := c.httpServer.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("bridge serve: %w", err)
		}
		return nil
	})

	c.logger.Info("bridge listening", "address", addr)
	return nil
}

// Stop shuts the HTTP server down first (which stops accepting
// connections and closes the listener, waiting up to five seconds for
// in-flight handlers), then closes every peer, then cancels the host
// stream subscription and waits for the background goroutines.
// Idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	if err := c.httpServer.Shutdown(shutdownCtx); err != nil {
		c.logger.Error("bridge http shutdown", "error", err)
	}

	c.registry.CloseAll()
	c.cancel()

	if c.group != nil {
		if err := c.group.Wait(); err != nil {
			c.logger.Error("bridge shutdown", "error", err)
		}
	}
	c.cancel = nil
	return nil
}
