// Package monitoring serves the HTTP status API: JSON snapshots of the
// scheduler and its ports, a live SSE stream of telemetry lines, and
// Prometheus metrics.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portview/config"
)

// Server provides HTTP monitoring endpoints
type Server struct {
	config    *config.MonitoringConfig
	source    StatusSource
	metrics   *Metrics
	broker    *SSEBroker
	info      Info
	linkStats func() any
	linkUp    func() bool
	logger    *slog.Logger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
}

// Info identifies the running instance on /api/health
type Info struct {
	InstanceID string `json:"instance_id"`
	SessionID  string `json:"session_id"`
	Hub        string `json:"hub"`
	Transport  string `json:"transport"`
	Version    string `json:"version"`
}

// NewServer creates a new monitoring server. The returned server's Broker
// and Metrics must be registered as scheduler observers.
func NewServer(cfg *config.MonitoringConfig, source StatusSource, info Info, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	broker := NewSSEBroker()

	s := &Server{
		config:  cfg,
		source:  source,
		metrics: NewMetrics(source),
		broker:  broker,
		info:    info,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Start broker
	go broker.Run(ctx)

	return s
}

// SetLinkStats installs a callback reporting host link counters
func (s *Server) SetLinkStats(fn func() any) {
	s.linkStats = fn
}

// SetLinkConnected installs a callback reporting whether the host link is
// up. Health reports degraded while it returns false, and /metrics exports it.
func (s *Server) SetLinkConnected(fn func() bool) {
	s.linkUp = fn
	s.metrics.SetLinkConnected(fn)
}

// Broker returns the SSE broker
func (s *Server) Broker() *SSEBroker {
	return s.broker
}

// Metrics returns the metrics registry holder
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the request router
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/link", s.handleLink)
	mux.HandleFunc("/api/feed", s.handleFeed)
	mux.HandleFunc("/api/stream", s.handleSSE)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting monitoring server", "port", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Monitoring server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	// Cancel broker first - this closes SSE client connections
	s.cancel()

	// SSE connections should close quickly once broker signals them
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		s.logger.Info("Stopping monitoring server")
		return s.server.Shutdown(shutdownCtx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.source.Stats()

	status := "healthy"
	if stats.Ticks == 0 {
		status = "starting"
	}

	response := map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"instance":    s.info,
		"ticks":       stats.Ticks,
		"sse_clients": s.broker.ClientCount(),
	}
	if s.linkUp != nil {
		up := s.linkUp()
		response["link_connected"] = up
		if !up {
			status = "degraded"
		}
	}
	response["status"] = status

	writeJSON(w, response)
}

// handleStats returns scheduler statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.source.Stats())
}

// handlePorts returns the state of every hub port
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.source.PortStatuses())
}

// handleLink returns host link counters
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	if s.linkStats == nil {
		http.Error(w, "link statistics unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"transport": s.info.Transport,
		"stats":     s.linkStats(),
	})
}

// handleSSE streams telemetry lines as server-sent events
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// Check if client supports SSE
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	port := r.URL.Query().Get("port")
	if port == "" {
		port = AllPorts
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &SSEClient{
		port: port,
		send: make(chan string, 64),
		done: make(chan struct{}),
	}

	select {
	case s.broker.register <- client:
	case <-s.ctx.Done():
		return
	case <-r.Context().Done():
		return
	}

	// Ensure cleanup on disconnect
	defer func() {
		select {
		case s.broker.unregister <- client:
		case <-s.ctx.Done():
		}
	}()

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\ndata: {\"port\":%q}\n\n", port)
	flusher.Flush()

	// Start keepalive ticker (every 15s)
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected
			return

		case <-client.done:
			// Server shutting down
			return

		case line := <-client.send:
			// Lines never contain newlines; tabs pass through
			fmt.Fprintf(w, "event: line\ndata: %s\n\n", line)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

// handleFeed returns the most recent lines, optionally for one port
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	port := r.URL.Query().Get("port")
	if port == "" {
		port = AllPorts
	}

	// Parse optional count parameter (default 50, max 200)
	count := 50
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if n, err := strconv.Atoi(countStr); err == nil && n > 0 {
			count = n
		}
	}
	if count > recentLines {
		count = recentLines
	}

	writeJSON(w, map[string]any{
		"port":  port,
		"lines": s.broker.Recent(port, count),
	})
}
