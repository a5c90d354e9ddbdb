package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"portview/ble"
	"portview/capture"
	"portview/config"
	"portview/monitoring"
	"portview/output"
	"portview/serial"
	"portview/simhub"
)

const (
	appName    = "portview"
	appVersion = "1.0.0"
)

// hostLink is a capture.Link that owns an OS resource
type hostLink interface {
	capture.Link
	Close() error
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML); built-in defaults when empty")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Handle version flag
	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	// Load configuration
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}

	// Setup logging
	logger := setupLogging(cfg, *debug)
	sessionID := uuid.NewString()
	logger.Info("Starting portview",
		"version", appVersion,
		"instance", cfg.App.InstanceID,
		"session", sessionID,
		"config", *configPath)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	hub := simhub.New(&cfg.Hub, logger.With("component", "simhub"))

	link, endpoint, watch, err := openLink(cfg, logger)
	if err != nil {
		logger.Error("Failed to open host link", "transport", cfg.Transport.Type, "error", err)
		os.Exit(1)
	}

	scheduler := capture.NewScheduler(&cfg.Hub, hub, link, logger)
	var portCallbacks []capture.PortEventCallback

	// Broker connection is optional: without it the mirror may still write its file
	var publisher output.Publisher
	if cfg.Mirror.Enabled {
		clientID := cfg.App.InstanceID + "-" + sessionID[:8]
		publisher, err = output.Connect(&cfg.Mirror, clientID, logger)
		if err != nil {
			logger.Warn("Broker unavailable, continuing without publishing", "kind", cfg.Mirror.Kind, "error", err)
			publisher = nil
		}
	}

	var mirror *output.Mirror
	if cfg.Mirror.Enabled && (publisher != nil || cfg.Mirror.File) {
		mirror = output.NewMirror(&output.MirrorConfig{
			InstanceID:    cfg.App.InstanceID,
			File:          cfg.Mirror.File,
			LogBasePath:   cfg.Logging.BasePath,
			LogMaxSizeMB:  cfg.Logging.MaxSizeMB,
			LogMaxBackups: cfg.Logging.MaxBackups,
			LogCompress:   cfg.Logging.Compress,
			Publisher:     publisher,
			Subject:       output.BuildTelemetrySubject(cfg.Mirror.SubjectPrefix, cfg.App.InstanceID),
			Logger:        logger,
		})
		scheduler.AddObserver(mirror)
	}

	var events *output.EventPublisher
	var health *output.HealthPublisher
	if publisher != nil {
		events = output.NewEventPublisher(&output.EventPublisherConfig{
			Publisher:  publisher,
			Subject:    output.BuildEventsSubject(cfg.Mirror.SubjectPrefix, cfg.App.InstanceID),
			InstanceID: cfg.App.InstanceID,
			SessionID:  sessionID,
			Logger:     logger,
		})
		events.CheckAndPublishUncleanShutdown()
		events.PublishServiceStart(appVersion, cfg.Transport.Type)
		events.PublishLinkOpened(cfg.Transport.Type, endpoint)
		portCallbacks = append(portCallbacks, events.PublishPortEvent)

		health = output.NewHealthPublisher(&output.HealthPublisherConfig{
			Publisher:  publisher,
			Subject:    output.BuildHealthSubject(cfg.Mirror.SubjectPrefix, cfg.App.InstanceID),
			InstanceID: cfg.App.InstanceID,
			SessionID:  sessionID,
			HubName:    hub.Name(),
			Interval:   cfg.Mirror.HealthInterval(),
			Logger:     logger,
			StatsFunc: func() output.HealthStats {
				return output.HealthStats{
					Scheduler: scheduler.Stats(),
					Ports:     scheduler.PortStatuses(),
				}
			},
		})
		health.Start()
	}

	var monServer *monitoring.Server
	if cfg.Monitoring.Enabled {
		monServer = monitoring.NewServer(&cfg.Monitoring, scheduler, monitoring.Info{
			InstanceID: cfg.App.InstanceID,
			SessionID:  sessionID,
			Hub:        hub.Name(),
			Transport:  cfg.Transport.Type,
			Version:    appVersion,
		}, logger)
		monServer.SetLinkStats(watch.stats)
		if watch.connected != nil {
			monServer.SetLinkConnected(watch.connected)
		}
		scheduler.AddObserver(monServer.Broker())
		scheduler.AddObserver(monServer.Metrics())
		portCallbacks = append(portCallbacks, monServer.Metrics().PortEvent)

		if err := monServer.Start(); err != nil {
			logger.Error("Failed to start monitoring server", "error", err)
			os.Exit(1)
		}
	}

	scheduler.SetErrorCallback(events.PublishError)
	scheduler.SetPortEventCallback(func(e capture.PortEvent) {
		for _, cb := range portCallbacks {
			cb(e)
		}
	})

	logger.Info("portview started",
		"instance", cfg.App.InstanceID,
		"transport", cfg.Transport.Type,
		"endpoint", endpoint,
		"ports", cfg.Hub.Ports)

	// Run the tick loop until a signal or a host shutdown command
	reason := "signal"
	if err := scheduler.Run(ctx); errors.Is(err, capture.ErrHalted) {
		reason = "hub shutdown"
		events.PublishHubShutdown()
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down gracefully...", "reason", reason)

	if health != nil {
		health.Stop()
	}
	events.PublishServiceStop(reason)

	// Stop monitoring server
	if monServer != nil {
		if err := monServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Error stopping monitoring server", "error", err)
		}
	}

	if mirror != nil {
		if err := mirror.Close(); err != nil {
			logger.Warn("Error closing telemetry mirror", "error", err)
		}
	}

	if err := link.Close(); err != nil {
		logger.Warn("Error closing host link", "error", err)
	}

	if publisher != nil {
		publisher.Close()
	}

	stats := scheduler.Stats()
	logger.Info("portview stopped",
		"ticks", stats.Ticks,
		"lines", stats.Lines,
		"commands", stats.Commands)
}

// linkWatch exposes a host link's state to monitoring
type linkWatch struct {
	stats     func() any
	connected func() bool // nil when the transport cannot drop
}

// openLink opens the configured host transport. It returns the link, a
// human-readable endpoint and the callbacks monitoring reads it through.
func openLink(cfg *config.Config, logger *slog.Logger) (hostLink, string, linkWatch, error) {
	switch cfg.Transport.Type {
	case config.TransportBLE:
		link, err := ble.Open(cfg.Transport.BLEName, logger)
		if err != nil {
			return nil, "", linkWatch{}, err
		}
		return link, link.Name(), linkWatch{stats: func() any { return link.Stats() }}, nil

	default:
		link, err := serial.Dial(serial.NewDetector(logger), cfg.Transport.Device, cfg.Transport.BaudRate,
			serial.BackoffFrom(&cfg.Recovery), logger)
		if err != nil {
			return nil, "", linkWatch{}, err
		}
		return link, link.Device(), linkWatch{
			stats:     func() any { return link.Stats() },
			connected: link.Connected,
		}, nil
	}
}

// setupLogging configures logging with optional file rotation
func setupLogging(cfg *config.Config, debug bool) *slog.Logger {
	// Determine log level
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler

	// If log base path is configured, write to rotating log file
	if cfg.Logging.BasePath != "" {
		// Create log directory if it doesn't exist
		if err := os.MkdirAll(cfg.Logging.BasePath, 0755); err != nil {
			log.Printf("Warning: failed to create log directory: %v", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			logPath := filepath.Join(cfg.Logging.BasePath, "portview.log")
			writer := &lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				Compress:   cfg.Logging.Compress,
			}
			handler = slog.NewJSONHandler(writer, opts)
		}
	} else {
		// Log to stdout
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
