package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/daemon"
	"github.com/harunnryd/medtriage/internal/ingress"
)

// HTTPServerComponent serves the ingress endpoints.
type HTTPServerComponent struct {
	daemon      *daemon.Daemon
	cfg         *config.Config
	orchComp    *OrchestratorComponent
	server      *http.Server
	listener    net.Listener
	shutdownTTL time.Duration
	initialized bool
	started     bool
	mu          sync.RWMutex
	startTime   time.Time
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.Config, orchComp *OrchestratorComponent) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:      d,
		cfg:         cfg,
		orchComp:    orchComp,
		initialized: false,
		started:     false,
	}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"Orchestrator"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.orchComp == nil || h.orchComp.GetOrchestrator() == nil {
		return fmt.Errorf("orchestrator not initialized")
	}

	srv := h.cfg.Server
	maxItems := config.IntOrDefault(h.cfg.Orchestrator.MaxItems, config.DefaultOrchestratorMaxItems)
	origins := srv.CORSOrigins
	if len(origins) == 0 {
		origins = config.DefaultCORSOrigins
	}
	maxUpload := srv.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = config.DefaultServerMaxUploadBytes
	}

	handler := ingress.NewServer(ingress.NewIngress(h.orchComp.GetOrchestrator(), maxItems), ingress.Options{
		CORSOrigins:    origins,
		MaxUploadBytes: maxUpload,
		Health:         h.componentStatus,
	})

	readTimeout, err := config.DurationOrDefault(srv.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(srv.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	requestTimeout, err := config.DurationOrDefault(h.cfg.Orchestrator.RequestTimeout, config.DefaultOrchestratorRequestTimeout)
	if err != nil {
		return fmt.Errorf("parse orchestrator request timeout: %w", err)
	}
	if adjusted := writeTimeoutFor(writeTimeout, requestTimeout); adjusted != writeTimeout {
		slog.Warn("Raising server write timeout above the conversation deadline", "write_timeout", writeTimeout, "request_timeout", requestTimeout, "adjusted", adjusted)
		writeTimeout = adjusted
	}
	idleTimeout, err := config.DurationOrDefault(srv.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(srv.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      handler.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", srv.Port, "cors_origins", origins)
	return nil
}

// writeTimeoutMargin leaves room to encode the 504 after the conversation
// deadline fires.
const writeTimeoutMargin = 15 * time.Second

func writeTimeoutFor(write, request time.Duration) time.Duration {
	if write <= 0 || request <= 0 {
		return write
	}
	if floor := request + writeTimeoutMargin; write < floor {
		return floor
	}
	return write
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	h.startTime = time.Now()
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

// Stop drains in-flight requests. The lock is released first so /health
// requests still being served can read component state.
func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}
	h.started = false
	server, ttl := h.server, h.shutdownTTL
	h.mu.Unlock()

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return &daemon.ComponentHealth{
			Name:    h.Name(),
			Healthy: false,
			Error:   fmt.Errorf("not initialized"),
		}, nil
	}

	if !h.started {
		return &daemon.ComponentHealth{
			Name:    h.Name(),
			Healthy: false,
			Error:   fmt.Errorf("not started"),
		}, nil
	}

	return &daemon.ComponentHealth{
		Name:    h.Name(),
		Healthy: true,
		Error:   nil,
	}, nil
}

// Addr is the bound listener address once started.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *HTTPServerComponent) componentStatus(ctx context.Context) map[string]ingress.ComponentStatus {
	out := make(map[string]ingress.ComponentStatus)
	if h.daemon == nil {
		return out
	}
	for name, ch := range h.daemon.ComponentHealthContext(ctx) {
		status := ingress.ComponentStatus{Healthy: ch.Healthy}
		if ch.Error != nil {
			status.Error = ch.Error.Error()
		}
		out[name] = status
	}
	return out
}
