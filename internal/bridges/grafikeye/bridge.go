package grafikeye

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/config"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// backoffFactor scales the reconnect delay after every failed attempt.
	backoffFactor = 1.5

	defaultReconnectInitial = 5 * time.Second
	defaultReconnectMax     = 2 * time.Minute
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes the handler for a topic pattern.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// SceneController is the controller surface the bridge drives.
// *Controller implements it; tests substitute a mock.
type SceneController interface {
	Connect(ctx context.Context) error
	SelectScene(scene Scene, units ...ControlUnit)
	RegisterSceneCallback(unit ControlUnit, handler SceneHandler) error
	OnStateChange(fn func(from, to ConnectionState))
	State() ConnectionState
	LastError() error
	Scenes() map[ControlUnit]Scene
	Stats() Stats
	Address() string
	Close() error
}

// Ensure Controller implements SceneController.
var _ SceneController = (*Controller)(nil)

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded configuration.
	Config *config.Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Controller is the Grafik Eye link.
	Controller SceneController

	// Recorder is optional time-series storage for link counters.
	Recorder LinkRecorder

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string
}

// Bridge exposes a Grafik Eye controller on MQTT. It handles:
//   - Scene commands from MQTT, translated to scene select commands
//   - Polled scenes, published as retained per-unit state on change
//   - Read requests, health reporting and the optional reconnect supervisor
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg     *config.Config
	mqtt    MQTTClient
	ctrl    SceneController
	health  *HealthReporter
	catalog *SceneCatalog

	units      map[ControlUnit]string
	debouncers map[ControlUnit]*DebouncedHandler

	// State cache for change detection
	stateCache   map[ControlUnit]Scene
	stateCacheMu sync.Mutex

	reconnect    config.ReconnectConfig
	backoffStart time.Duration
	backoffLimit time.Duration
	wake         chan struct{}

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		ctrl:       opts.Controller,
		catalog:    NewSceneCatalog(opts.Config.GrafikEye.Scenes),
		units:      unitNames(opts.Config.GrafikEye.ControlUnits),
		debouncers: make(map[ControlUnit]*DebouncedHandler),
		stateCache: make(map[ControlUnit]Scene),
		reconnect:  opts.Config.GrafikEye.Reconnect,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.backoffStart = b.reconnect.GetInitialDelay()
	if b.backoffStart <= 0 {
		b.backoffStart = defaultReconnectInitial
	}
	b.backoffLimit = b.reconnect.GetMaxDelay()
	if b.backoffLimit < b.backoffStart {
		b.backoffLimit = max(b.backoffStart, defaultReconnectMax)
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:     opts.Config.Bridge.ID,
		Version:      version,
		Interval:     opts.Config.GetHealthInterval(),
		Publisher:    opts.MQTTClient,
		Link:         opts.Controller,
		Recorder:     opts.Recorder,
		ControlUnits: len(b.units),
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	window := opts.Config.GrafikEye.GetDebounceWindow()
	for unit := range b.units {
		handler := SceneHandlerFunc(func(scene Scene) {
			b.handleSceneObserved(unit, scene)
		})
		b.debouncers[unit] = NewDebouncedHandler(handler, window)
	}

	return b, nil
}

// Start registers scene handlers, subscribes to MQTT, connects the link and
// starts health reporting.
//
// A rejected login is not fatal: the bridge keeps running and reports the
// link as unhealthy. A link that cannot be opened is fatal unless the
// reconnect supervisor is enabled.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	for unit, d := range b.debouncers {
		if err := b.ctrl.RegisterSceneCallback(unit, d); err != nil {
			return fmt.Errorf("register unit %d: %w", unit, err)
		}
	}
	b.ctrl.OnStateChange(b.handleStateChange)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	if err := b.ctrl.Connect(ctx); err != nil {
		switch {
		case errors.Is(err, ErrLoginRejected):
			b.logError("Grafik Eye login rejected, bridge running without link", err)
		case b.reconnect.Enabled:
			b.logError("Grafik Eye unreachable, reconnect supervisor will retry", err)
		default:
			return fmt.Errorf("connect to Grafik Eye: %w", err)
		}
	}

	if b.reconnect.Enabled {
		b.wg.Add(1)
		go b.superviseLink()
		if b.ctrl.State() != StateReady {
			b.wakeSupervisor()
		}
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"address", b.ctrl.Address(),
		"control_units", len(b.units),
		"reconnect", b.reconnect.Enabled)

	return nil
}

// Stop gracefully shuts down the bridge and closes the controller.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// No new commands may reach the controller while it closes.
		for _, topic := range []string{CommandSubscribeTopic(), RequestSubscribeTopic()} {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.logWarn("failed to unsubscribe", "topic", topic, "error", err)
			}
		}

		close(b.done)
		b.ctxCancel()

		b.wg.Wait()

		if err := b.ctrl.Close(); err != nil {
			b.logError("failed to close controller", err)
		}

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// =============================================================================
// Link state
// =============================================================================

// handleStateChange runs on the goroutine that changed state, which may be
// the polling goroutine, so it only signals.
func (b *Bridge) handleStateChange(from, to ConnectionState) {
	b.logInfo("link state changed", "from", from.String(), "to", to.String())
	b.health.Trigger()

	if to == StateReady {
		b.clearStateCache()
	}
	if to == StateFailed && b.reconnect.Enabled {
		b.wakeSupervisor()
	}
}

func (b *Bridge) wakeSupervisor() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// superviseLink reconnects a failed link with exponential backoff.
func (b *Bridge) superviseLink() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		delay := b.backoffStart
		for b.ctrl.State() != StateReady {
			b.logInfo("reconnecting to Grafik Eye", "delay", delay.String())

			select {
			case <-b.done:
				return
			case <-time.After(delay):
			}

			if err := b.ctrl.Connect(b.ctx); err != nil {
				if errors.Is(err, ErrControllerClosed) {
					return
				}
				b.logError("reconnect attempt failed", err)
				delay = nextBackoff(delay, b.backoffLimit)
				continue
			}

			b.health.RecordReconnect()
			b.logInfo("reconnected to Grafik Eye", "address", b.ctrl.Address())
		}
	}
}

// nextBackoff grows d by backoffFactor, capped at limit.
func nextBackoff(d, limit time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffFactor)
	if next > limit {
		return limit
	}
	return next
}

// =============================================================================
// Scenes
// =============================================================================

// handleSceneObserved publishes a polled scene when it differs from the
// last one published for the unit.
func (b *Bridge) handleSceneObserved(unit ControlUnit, scene Scene) {
	if !b.updateStateCache(unit, scene) {
		return
	}
	b.publishState(unit, scene, SourcePoll)
}

// updateStateCache stores scene and reports whether it changed.
func (b *Bridge) updateStateCache(unit ControlUnit, scene Scene) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if prev, ok := b.stateCache[unit]; ok && prev == scene {
		return false
	}
	b.stateCache[unit] = scene
	return true
}

func (b *Bridge) publishState(unit ControlUnit, scene Scene, source string) {
	msg := NewStateMessage(unit, b.units[unit], scene, b.catalog.Name(scene), source)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(unit), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}

	b.logDebug("published state",
		"control_unit", int(unit),
		"scene", scene,
		"source", source)
}

// clearStateCache forgets published scenes so the next poll republishes
// every unit.
func (b *Bridge) clearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[ControlUnit]Scene)
	b.stateCacheMu.Unlock()
}

// =============================================================================
// MQTT
// =============================================================================

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	target := parts[len(parts)-1]

	switch parts[1] {
	case "command":
		b.handleCommand(target, payload)
	case "request":
		b.handleRequest(target, payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message.
func (b *Bridge) handleCommand(target string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"target", target)

	switch cmd.Command {
	case CommandSelectScene:
		b.executeSelectScene(target, cmd)
	default:
		b.publishAckError(target, cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

func (b *Bridge) executeSelectScene(target string, cmd CommandMessage) {
	units, code, msg := b.resolveUnits(target, cmd.ControlUnits)
	if code != "" {
		b.publishAckError(target, cmd, code, msg)
		return
	}

	scene, err := b.catalog.Resolve(cmd.Scene)
	if err != nil {
		b.publishAckError(target, cmd, ErrCodeInvalidParameters, err.Error())
		return
	}

	if state := b.ctrl.State(); state != StateReady {
		b.publishAckError(target, cmd, ErrCodeDeviceUnreachable,
			fmt.Sprintf("link is %s", state))
		return
	}

	for _, u := range units {
		b.debouncers[u].Touch()
	}

	b.ctrl.SelectScene(scene, units...)

	if b.ctrl.State() != StateReady {
		reason := "write failed"
		if err := b.ctrl.LastError(); err != nil {
			reason = err.Error()
		}
		b.publishAckError(target, cmd, ErrCodeDeviceUnreachable, reason)
		return
	}

	b.publishAck(target, cmd, scene, units)

	for _, u := range uniqueUnits(units) {
		if b.updateStateCache(u, scene) {
			b.publishState(u, scene, SourceCommand)
		}
	}
}

// resolveUnits returns the target units of a command, or an error code and
// message. Explicit control_units win over the topic target.
func (b *Bridge) resolveUnits(target string, ids []int) ([]ControlUnit, string, string) {
	if len(ids) == 0 {
		u, ok := parseUnitTarget(target)
		if !ok {
			return nil, ErrCodeInvalidParameters,
				fmt.Sprintf("topic target %q is not a control unit and control_units is empty", target)
		}
		ids = []int{int(u)}
	}

	units := make([]ControlUnit, 0, len(ids))
	for _, id := range ids {
		u := ControlUnit(id)
		if !u.Valid() {
			return nil, ErrCodeInvalidParameters,
				fmt.Sprintf("control unit %d out of range %d-%d", id, MinControlUnit, MaxControlUnit)
		}
		if _, ok := b.units[u]; !ok {
			return nil, ErrCodeNotConfigured, fmt.Sprintf("control unit %d not configured", id)
		}
		units = append(units, u)
	}
	return units, "", ""
}

func uniqueUnits(units []ControlUnit) []ControlUnit {
	seen := make(map[ControlUnit]bool, len(units))
	out := make([]ControlUnit, 0, len(units))
	for _, u := range units {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// publishAck publishes an accepted acknowledgement.
func (b *Bridge) publishAck(target string, cmd CommandMessage, scene Scene, units []ControlUnit) {
	b.publishAckMessage(target, NewAckMessage(cmd, AckAccepted, scene, units))
}

// publishAckError publishes a failed command acknowledgement.
func (b *Bridge) publishAckError(target string, cmd CommandMessage, code, message string) {
	b.publishAckMessage(target, NewAckError(cmd, code, message))
	b.logError("command failed",
		fmt.Errorf("command_id=%s code=%s message=%s", cmd.ID, code, message))
}

func (b *Bridge) publishAckMessage(target string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(target), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message.
func (b *Bridge) handleRequest(topicID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage

	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionStatus:
		resp = b.handleStatus(req)
	default:
		resp = newErrorResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// handleReadState returns the last observed scenes.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	scenes := b.ctrl.Scenes()

	var units []ControlUnit
	if req.ControlUnit != 0 {
		u := ControlUnit(req.ControlUnit)
		if _, ok := b.units[u]; !ok {
			return newErrorResponse(req.RequestID, ErrCodeNotConfigured,
				fmt.Sprintf("control unit %d not configured", req.ControlUnit))
		}
		units = []ControlUnit{u}
	} else {
		for u := range b.units {
			units = append(units, u)
		}
		sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	}

	states := make([]UnitState, 0, len(units))
	for _, u := range units {
		scene := scenes[u]
		states = append(states, UnitState{
			ControlUnit: int(u),
			Name:        b.units[u],
			Scene:       string(scene),
			SceneName:   b.catalog.Name(scene),
		})
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"link_state":    b.ctrl.State().String(),
			"control_units": states,
		},
	}
}

// handleStatus returns the link state and counters.
func (b *Bridge) handleStatus(req RequestMessage) ResponseMessage {
	stats := b.ctrl.Stats()

	data := map[string]any{
		"link_state": stats.State.String(),
		"address":    b.ctrl.Address(),
		"statistics": LinkStatistics{
			PollsSent:      stats.PollsSent,
			StatusReplies:  stats.StatusReplies,
			PollMisses:     stats.PollMisses,
			ParseMisses:    stats.ParseMisses,
			ScenesSelected: stats.ScenesSelected,
			WriteFailures:  stats.WriteFailures,
			ReadFailures:   stats.ReadFailures,
			CallbackPanics: stats.CallbackPanics,
			Reconnects:     b.health.Reconnects(),
		},
	}
	if err := b.ctrl.LastError(); err != nil {
		data["last_error"] = err.Error()
	}
	if !stats.LastStatus.IsZero() {
		data["last_status"] = stats.LastStatus.UTC()
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
