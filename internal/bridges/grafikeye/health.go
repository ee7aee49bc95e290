package grafikeye

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// LinkStatsSource provides the controller view the health reporter needs.
type LinkStatsSource interface {
	Stats() Stats
	LastError() error
	Address() string
}

// LinkRecorder stores link counters in a time-series backend.
// Only counters are recorded, never observed scenes.
type LinkRecorder interface {
	RecordLink(bridgeID string, stats Stats)
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Link      LinkStatsSource

	// Recorder is optional.
	Recorder LinkRecorder

	// ControlUnits is the number of exposed control units.
	ControlUnits int
}

// HealthReporter publishes a retained health message on an interval and
// whenever Trigger is called.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	reconnects atomic.Uint64

	kick     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// Trigger requests an immediate publish without blocking the caller.
func (h *HealthReporter) Trigger() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// RecordReconnect counts a successful reconnect.
func (h *HealthReporter) RecordReconnect() {
	h.reconnects.Add(1)
}

// Reconnects returns the number of successful reconnects.
func (h *HealthReporter) Reconnects() uint64 {
	return h.reconnects.Load()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately and records
// the link counters.
func (h *HealthReporter) PublishNow() error {
	if h.cfg.Recorder != nil && h.cfg.Link != nil {
		h.cfg.Recorder.RecordLink(h.cfg.BridgeID, h.cfg.Link.Stats())
	}
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		case <-h.kick:
		}
		if err := h.PublishNow(); err != nil {
			h.logError("failed to publish health", err)
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Link == nil {
		return HealthUnhealthy, "no controller"
	}

	switch state := h.cfg.Link.Stats().State; state {
	case StateReady:
		if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
			return HealthDegraded, "MQTT disconnected"
		}
		return HealthHealthy, ""
	case StateAuthenticating:
		return HealthDegraded, "logging in to Grafik Eye"
	case StateFailed:
		if err := h.cfg.Link.LastError(); err != nil {
			return HealthUnhealthy, err.Error()
		}
		return HealthUnhealthy, "link failed"
	default:
		return HealthUnhealthy, "link " + state.String()
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	var stats Stats
	if h.cfg.Link != nil {
		stats = h.cfg.Link.Stats()
	}

	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, stats,
		h.reconnects.Load(), h.cfg.ControlUnits, h.startTime)
	msg.Reason = reason
	if h.cfg.Link != nil {
		msg.Connection.Address = h.cfg.Link.Address()
		if err := h.cfg.Link.LastError(); err != nil {
			msg.Connection.LastError = err.Error()
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
