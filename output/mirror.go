package output

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"portview/capture"
	"portview/protocol"
)

// Mirror copies every outbound tick to a rotating file and a broker
type Mirror struct {
	instanceID string
	file       io.WriteCloser
	publisher  Publisher
	subject    string
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	published int64
	failed    int64
}

// MirrorConfig contains configuration for Mirror
type MirrorConfig struct {
	InstanceID    string
	File          bool // Write the rotating telemetry file
	LogBasePath   string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogCompress   bool
	Publisher     Publisher // nil disables publishing
	Subject       string
	Logger        *slog.Logger
}

// NewMirror creates a new Mirror
func NewMirror(cfg *MirrorConfig) *Mirror {
	m := &Mirror{
		instanceID: cfg.InstanceID,
		publisher:  cfg.Publisher,
		subject:    cfg.Subject,
		logger:     cfg.Logger,
		now:        time.Now,
	}

	var logPath string
	if cfg.File {
		// e.g., hub-01 -> /var/log/portview/hub-01-telemetry.log
		logPath = filepath.Join(cfg.LogBasePath, cfg.InstanceID+"-telemetry.log")
		m.file = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   cfg.LogCompress,
		}
	}

	cfg.Logger.Info("Initialized telemetry mirror",
		"log_path", logPath,
		"subject", cfg.Subject,
		"publish_enabled", cfg.Publisher != nil)

	return m
}

// TickDone implements capture.Observer
func (m *Mirror) TickDone(report capture.TickReport) {
	if len(report.Lines) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		m.writeFile(report.Lines)
	}

	if m.publisher == nil || !m.publisher.IsConnected() {
		return
	}
	if err := m.publisher.Publish(m.subject, protocol.Frame(report.Lines)); err != nil {
		m.failed++
		m.logger.Warn("Failed to publish telemetry",
			"subject", m.subject,
			"tick", report.Tick,
			"error", err)
		return
	}
	m.published++
}

// writeFile stamps each line; a mode preamble shares its slot with the first
// data line and is split back out.
func (m *Mirror) writeFile(lines []string) {
	header := BuildHeader(m.instanceID, m.now())

	var b strings.Builder
	for _, line := range lines {
		for _, part := range strings.Split(line, protocol.LineTerminator) {
			b.WriteString(header)
			b.WriteString(part)
			b.WriteByte('\n')
		}
	}

	if _, err := io.WriteString(m.file, b.String()); err != nil {
		m.logger.Error("Failed to write telemetry file", "error", err)
	}
}

// Stats returns publish counters
func (m *Mirror) Stats() (published, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.failed
}

// Close closes the telemetry file
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		return m.file.Close()
	}
	return nil
}
