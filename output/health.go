package output

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"portview/capture"
)

// HealthPublisher publishes periodic health heartbeats.
// These heartbeats enable fleet-wide monitoring and alerting.
type HealthPublisher struct {
	publisher  Publisher
	subject    string
	instanceID string
	sessionID  string
	hubName    string
	startTime  time.Time
	interval   time.Duration
	logger     *slog.Logger

	statsFunc func() HealthStats // Callback to get current stats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// HealthStats contains the data needed for health messages.
// This is provided by the scheduler via callback.
type HealthStats struct {
	Scheduler capture.SchedulerStats
	Ports     []capture.PortStatus
}

// HealthMessage is the JSON payload published to the broker
type HealthMessage struct {
	Version     int                  `json:"v"`
	Timestamp   string               `json:"ts"`
	InstanceID  string               `json:"instance_id"`
	SessionID   string               `json:"session_id"`
	Hub         string               `json:"hub"`
	UptimeSec   int64                `json:"uptime_sec"`
	Connected   bool                 `json:"connected"`
	Halted      bool                 `json:"halted"`
	Ticks       uint64               `json:"ticks"`
	Commands    uint64               `json:"commands"`
	WriteErrors uint64               `json:"write_errors"`
	LastTickAgo int64                `json:"last_tick_ago_sec"` // Seconds since last tick, -1 if never
	Ports       []capture.PortStatus `json:"ports"`
}

// HealthPublisherConfig contains configuration for HealthPublisher
type HealthPublisherConfig struct {
	Publisher  Publisher
	Subject    string // e.g., "portview.health.hub-01"
	InstanceID string
	SessionID  string
	HubName    string
	Interval   time.Duration // How often to publish (default 60s)
	Logger     *slog.Logger
	StatsFunc  func() HealthStats
}

// NewHealthPublisher creates a new HealthPublisher
func NewHealthPublisher(cfg *HealthPublisherConfig) *HealthPublisher {
	interval := cfg.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}

	return &HealthPublisher{
		publisher:  cfg.Publisher,
		subject:    cfg.Subject,
		instanceID: cfg.InstanceID,
		sessionID:  cfg.SessionID,
		hubName:    cfg.HubName,
		startTime:  time.Now(),
		interval:   interval,
		logger:     cfg.Logger,
		statsFunc:  cfg.StatsFunc,
		stopCh:     make(chan struct{}),
	}
}

// Start begins publishing health heartbeats
func (h *HealthPublisher) Start() {
	h.wg.Add(1)
	go h.publishLoop()
	h.logger.Info("Health publisher started",
		"subject", h.subject,
		"interval", h.interval)
}

// Stop stops the health publisher
func (h *HealthPublisher) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	h.logger.Info("Health publisher stopped")
}

func (h *HealthPublisher) publishLoop() {
	defer h.wg.Done()

	// Publish immediately on start
	h.publish()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			// Publish final message before stopping
			h.publish()
			return
		case <-ticker.C:
			h.publish()
		}
	}
}

// buildMessage assembles a heartbeat from the current stats
func (h *HealthPublisher) buildMessage(now time.Time) HealthMessage {
	stats := h.statsFunc()

	lastTickAgo := int64(-1)
	if !stats.Scheduler.LastTick.IsZero() {
		lastTickAgo = int64(now.Sub(stats.Scheduler.LastTick).Seconds())
	}

	return HealthMessage{
		Version:     1,
		Timestamp:   now.UTC().Format(time.RFC3339),
		InstanceID:  h.instanceID,
		SessionID:   h.sessionID,
		Hub:         h.hubName,
		UptimeSec:   int64(now.Sub(h.startTime).Seconds()),
		Connected:   h.publisher != nil && h.publisher.IsConnected(),
		Halted:      stats.Scheduler.Halted,
		Ticks:       stats.Scheduler.Ticks,
		Commands:    stats.Scheduler.Commands,
		WriteErrors: stats.Scheduler.WriteErrors,
		LastTickAgo: lastTickAgo,
		Ports:       stats.Ports,
	}
}

func (h *HealthPublisher) publish() {
	if h.publisher == nil || !h.publisher.IsConnected() {
		h.logger.Debug("Skipping health publish - broker not connected")
		return
	}

	msg := h.buildMessage(time.Now())

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal health message", "error", err)
		return
	}

	if err := h.publisher.Publish(h.subject, data); err != nil {
		h.logger.Warn("Failed to publish health message", "error", err)
		return
	}

	h.logger.Debug("Published health heartbeat",
		"subject", h.subject,
		"uptime_sec", msg.UptimeSec,
		"ports", len(msg.Ports))
}
