package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gungold-XwX/yui-telegram-bot/common/version"
)

// livenessProvider is the minimal interface the health server needs from the
// proactive scheduler.
type livenessProvider interface {
	LastTick() time.Time
}

// HealthServer exposes /health and /status. Optional; the app runs without
// it when no address is configured.
type HealthServer struct {
	addr      string
	scheduler livenessProvider
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	Commit            string    `json:"commit"`
	BuildTime         string    `json:"build_time"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSecs        float64   `json:"uptime_seconds"`
	SchedulerLastTick string    `json:"scheduler_last_tick"`
	SchedulerAlive    bool      `json:"scheduler_alive"`
}

// NewHealthServer creates and configures the HTTP server (does not start
// it).
func NewHealthServer(addr string, sched livenessProvider) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		scheduler: sched,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested with
// httptest without a live listener.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. It blocks until the listener is
// established so the caller knows the port is open before returning.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("health server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

// schedulerStale is how long after the last sweep the scheduler is reported
// as dead. It tolerates a couple of missed ticks before flipping.
const schedulerStale = 5 * time.Minute

func (h *HealthServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	lastTick := time.Time{}
	if h.scheduler != nil {
		lastTick = h.scheduler.LastTick()
	}
	alive := !lastTick.IsZero() && time.Since(lastTick) < schedulerStale

	lastTickStr := "never"
	if !lastTick.IsZero() {
		lastTickStr = lastTick.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:            "ok",
		Version:           version.Version,
		Commit:            version.GitCommit,
		BuildTime:         version.BuildTime,
		StartedAt:         h.startedAt,
		UptimeSecs:        time.Since(h.startedAt).Seconds(),
		SchedulerLastTick: lastTickStr,
		SchedulerAlive:    alive,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
