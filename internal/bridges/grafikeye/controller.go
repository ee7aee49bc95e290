package grafikeye

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is the pause between status polls.
const DefaultPollInterval = 500 * time.Millisecond

// Wire commands.
const (
	commandStatus      = "G"
	commandSelectScene = "A"
)

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SceneHandler receives the scene reported for one control unit on every
// successful status poll, whether or not it changed.
type SceneHandler interface {
	OnSceneObserved(scene Scene)
}

// SceneHandlerFunc adapts a function to SceneHandler.
type SceneHandlerFunc func(scene Scene)

// OnSceneObserved calls f(scene).
func (f SceneHandlerFunc) OnSceneObserved(scene Scene) {
	f(scene)
}

// Config holds the connection parameters of a Controller.
type Config struct {
	// Host is the controller's hostname or IP address. Required.
	Host string

	// Port is the telnet port. Default: 23.
	Port int

	// Login is the login token. Default: "nwk2".
	Login string

	ConnectTimeout time.Duration
	LoginTimeout   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// PollInterval is the pause between status polls. Default: 500ms.
	PollInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Stats holds controller counters.
type Stats struct {
	State          ConnectionState
	PollsSent      uint64
	StatusReplies  uint64
	PollMisses     uint64 // polls with no reply before the read deadline
	ParseMisses    uint64 // replies without a status segment
	ScenesSelected uint64
	WriteFailures  uint64
	ReadFailures   uint64
	CallbackPanics uint64
	ConnectedSince time.Time
	LastStatus     time.Time
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// pollRun is one polling goroutine bound to one session.
type pollRun struct {
	stop *closeOnce
	done chan struct{}
}

// Controller is the client for one Grafik Eye link.
//
// It owns one Session, a fixed table of scene handlers for control units
// 1..8, and at most one polling goroutine.
//
// State transitions:
//
//	Disconnected → Authenticating → Ready      Connect succeeded
//	Authenticating → Failed                    dial, handshake or login rejected
//	Ready → Failed                             write or read failure
//	any → Disconnected                         Close
//
// Thread Safety: All methods are safe for concurrent use.
type Controller struct {
	cfg  Config
	opts SessionOptions

	// connectMu serialises Connect and Close.
	connectMu sync.Mutex
	run       *pollRun

	// ctx is cancelled by Close to abort an in-flight Connect.
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	stateMu        sync.RWMutex
	state          ConnectionState
	lastErr        error
	session        *Session
	connectedSince time.Time

	handlersMu     sync.RWMutex
	handlers       [controlUnitCount][]SceneHandler
	stateListeners []func(from, to ConnectionState)

	scenesMu   sync.RWMutex
	scenes     [controlUnitCount]Scene
	lastStatus time.Time

	logger   Logger
	loggerMu sync.RWMutex

	pollsSent      atomic.Uint64
	statusReplies  atomic.Uint64
	pollMisses     atomic.Uint64
	parseMisses    atomic.Uint64
	scenesSelected atomic.Uint64
	writeFailures  atomic.Uint64
	readFailures   atomic.Uint64
	callbackPanics atomic.Uint64
}

// NewController creates a controller in StateDisconnected.
// Call Connect to open the link.
func NewController(cfg Config) *Controller {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Login == "" {
		cfg.Login = DefaultLogin
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		cfg: cfg,
		opts: SessionOptions{
			ConnectTimeout: cfg.ConnectTimeout,
			LoginTimeout:   cfg.LoginTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
		}.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
		logger: cfg.Logger,
	}
}

// Connect opens the link, logs in and starts the polling goroutine.
//
// Calling Connect while Authenticating or Ready is a logged no-op. From
// Failed or Disconnected it tears down any previous session first, so at
// most one polling goroutine ever runs.
//
// Returns:
//   - nil once the controller is Ready
//   - ErrConnectionFailed if the link could not be opened or the handshake broke
//   - *LoginError (matches ErrLoginRejected) if the controller refused the login;
//     the controller stays Failed and every SelectScene is a no-op
//   - ErrControllerClosed after Close
func (c *Controller) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.closed.Load() {
		return ErrControllerClosed
	}

	if st := c.State(); st == StateAuthenticating || st == StateReady {
		c.logWarn("connect called while link is "+st.String()+", ignoring", "host", c.cfg.Host)
		return nil
	}

	c.teardown()
	c.transition(StateAuthenticating, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	sess, err := Open(ctx, c.cfg.Host, c.cfg.Port, c.opts)
	if err != nil {
		c.transition(StateFailed, err)
		c.logError("connect failed", err, "host", c.cfg.Host, "port", c.cfg.Port)
		return err
	}

	result, err := sess.Login(ctx, c.cfg.Login)
	if err != nil {
		sess.Close()
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		c.transition(StateFailed, err)
		c.logError("login handshake failed", err, "host", c.cfg.Host)
		return err
	}

	// Kept even when rejected so Close or the next Connect releases it.
	c.stateMu.Lock()
	c.session = sess
	c.stateMu.Unlock()

	if result != LoginOK {
		loginErr := &LoginError{Result: result}
		c.transition(StateFailed, loginErr)
		c.logError("login rejected", loginErr, "host", c.cfg.Host)
		return loginErr
	}

	c.stateMu.Lock()
	c.connectedSince = time.Now()
	c.stateMu.Unlock()

	c.transition(StateReady, nil)
	c.startPolling(sess)

	c.logInfo("connected to Grafik Eye", "address", sess.RemoteAddr())
	return nil
}

// SelectScene activates scene on the given control units.
//
// The command is "A" + scene + the unit ids concatenated in caller order,
// duplicates included. Nothing is written unless the controller is Ready.
// A write failure demotes the controller to Failed; the command is not
// retried. Invalid input is logged and dropped.
func (c *Controller) SelectScene(scene Scene, units ...ControlUnit) {
	cmd, err := formatSelectScene(scene, units)
	if err != nil {
		c.logWarn("scene command dropped", "error", err)
		return
	}

	sess := c.readySession()
	if sess == nil {
		c.logDebug("scene command dropped, link not ready",
			"scene", scene,
			"state", c.State())
		return
	}

	if err := c.send(sess, cmd); err != nil {
		return
	}

	c.scenesSelected.Add(1)
	c.logInfo("scene selected", "scene", scene, "command", cmd)
}

// formatSelectScene builds the scene command without the line terminator.
func formatSelectScene(scene Scene, units []ControlUnit) (string, error) {
	if scene == "" || strings.ContainsAny(string(scene), "\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidScene, scene)
	}
	if len(units) == 0 {
		return "", fmt.Errorf("%w: no control units given", ErrInvalidControlUnit)
	}

	var b strings.Builder
	b.WriteString(commandSelectScene)
	b.WriteString(string(scene))
	for _, u := range units {
		if !u.Valid() {
			return "", fmt.Errorf("%w: %d", ErrInvalidControlUnit, u)
		}
		b.WriteString(u.String())
	}
	return b.String(), nil
}

// RegisterSceneCallback appends handler to the handlers of unit.
// Handlers for one unit run in registration order. There is no way to
// unregister; handlers live as long as the controller.
func (c *Controller) RegisterSceneCallback(unit ControlUnit, handler SceneHandler) error {
	if !unit.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidControlUnit, unit)
	}
	if handler == nil {
		return fmt.Errorf("scene handler for unit %d is nil", unit)
	}

	c.handlersMu.Lock()
	c.handlers[unit.index()] = append(c.handlers[unit.index()], handler)
	c.handlersMu.Unlock()
	return nil
}

// OnStateChange registers fn to be called after every state transition.
// fn runs synchronously on the goroutine that caused the transition, which
// may be the polling goroutine. It must not call Connect or Close.
func (c *Controller) OnStateChange(fn func(from, to ConnectionState)) {
	if fn == nil {
		return
	}
	c.handlersMu.Lock()
	c.stateListeners = append(c.stateListeners, fn)
	c.handlersMu.Unlock()
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// LastError returns the error behind the most recent transition to Failed,
// or nil if the link has not failed since it was last Ready.
func (c *Controller) LastError() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastErr
}

// Scenes returns the last observed scene of every control unit that has
// reported one.
func (c *Controller) Scenes() map[ControlUnit]Scene {
	c.scenesMu.RLock()
	defer c.scenesMu.RUnlock()

	out := make(map[ControlUnit]Scene, controlUnitCount)
	for i, s := range c.scenes {
		if s != "" {
			out[ControlUnit(i+1)] = s
		}
	}
	return out
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	c.stateMu.RLock()
	state := c.state
	since := c.connectedSince
	c.stateMu.RUnlock()

	c.scenesMu.RLock()
	last := c.lastStatus
	c.scenesMu.RUnlock()

	return Stats{
		State:          state,
		PollsSent:      c.pollsSent.Load(),
		StatusReplies:  c.statusReplies.Load(),
		PollMisses:     c.pollMisses.Load(),
		ParseMisses:    c.parseMisses.Load(),
		ScenesSelected: c.scenesSelected.Load(),
		WriteFailures:  c.writeFailures.Load(),
		ReadFailures:   c.readFailures.Load(),
		CallbackPanics: c.callbackPanics.Load(),
		ConnectedSince: since,
		LastStatus:     last,
	}
}

// Address returns host:port of the controller.
func (c *Controller) Address() string {
	return fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
}

// Close stops polling, closes the link and leaves the controller
// Disconnected. Subsequent Connect calls return ErrControllerClosed.
// Safe to call multiple times.
func (c *Controller) Close() error {
	c.closed.Store(true)
	c.cancel()

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.teardown()
	c.transition(StateDisconnected, nil)
	return nil
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// =============================================================================
// State
// =============================================================================

// transition moves to state to, recording err if non-nil.
// Callers other than demote must hold connectMu.
func (c *Controller) transition(to ConnectionState, err error) {
	c.stateMu.Lock()
	from := c.state
	c.state = to
	switch {
	case err != nil:
		c.lastErr = err
	case to == StateReady:
		c.lastErr = nil
	}
	c.stateMu.Unlock()

	if from != to {
		c.notifyStateChange(from, to)
	}
}

// demote moves Ready to Failed. It is the only transition made outside
// connectMu and is a no-op unless the controller is Ready.
func (c *Controller) demote(err error) {
	c.stateMu.Lock()
	if c.state != StateReady {
		c.stateMu.Unlock()
		return
	}
	c.state = StateFailed
	c.lastErr = err
	c.stateMu.Unlock()

	c.logError("link failed, controller inactive until reconnected", err)
	c.notifyStateChange(StateReady, StateFailed)
}

func (c *Controller) notifyStateChange(from, to ConnectionState) {
	c.handlersMu.RLock()
	listeners := make([]func(from, to ConnectionState), len(c.stateListeners))
	copy(listeners, c.stateListeners)
	c.handlersMu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("state listener panic recovered", fmt.Errorf("%v", r))
				}
			}()
			fn(from, to)
		}()
	}
}

func (c *Controller) readySession() *Session {
	if c.closed.Load() {
		return nil
	}
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.state != StateReady {
		return nil
	}
	return c.session
}

// send writes one scene command. A failure demotes the controller the same
// way a failed poll write does.
func (c *Controller) send(sess *Session, cmd string) error {
	if err := sess.WriteLine(cmd); err != nil {
		c.writeFailures.Add(1)
		c.demote(err)
		return err
	}
	return nil
}

// teardown stops the polling goroutine and closes the session.
// Caller must hold connectMu.
func (c *Controller) teardown() {
	c.stateMu.Lock()
	sess := c.session
	c.session = nil
	c.stateMu.Unlock()

	run := c.run
	c.run = nil

	if run != nil {
		run.stop.Close()
	}
	if sess != nil {
		// Unblocks a poll read in progress.
		sess.Close()
	}
	if run != nil {
		<-run.done
	}
}

// =============================================================================
// Polling
// =============================================================================

// startPolling launches the polling goroutine. Caller must hold connectMu.
func (c *Controller) startPolling(sess *Session) {
	run := &pollRun{
		stop: newCloseOnce(),
		done: make(chan struct{}),
	}
	c.run = run
	go c.pollLoop(run, sess)
}

// pollLoop requests status every PollInterval until the controller leaves
// Ready or the run is stopped.
func (c *Controller) pollLoop(run *pollRun, sess *Session) {
	defer close(run.done)

	wait := time.NewTimer(c.cfg.PollInterval)
	defer wait.Stop()

	for {
		if !c.pollOnce(run, sess) {
			return
		}

		wait.Reset(c.cfg.PollInterval)
		select {
		case <-run.stop.Done():
			return
		case <-wait.C:
		}
	}
}

// pollOnce runs one poll cycle and reports whether polling should continue.
func (c *Controller) pollOnce(run *pollRun, sess *Session) bool {
	if run.stop.IsClosed() || c.State() != StateReady {
		return false
	}

	if err := sess.WriteLine(commandStatus); err != nil {
		if run.stop.IsClosed() {
			return false
		}
		c.writeFailures.Add(1)
		c.demote(err)
		return false
	}
	c.pollsSent.Add(1)

	line, err := sess.ReadUntil(lineTerminator)
	if err != nil {
		if run.stop.IsClosed() {
			return false
		}
		if errors.Is(err, ErrReadTimeout) {
			c.pollMisses.Add(1)
			c.logDebug("no status reply this cycle", "error", err)
			return true
		}
		c.readFailures.Add(1)
		c.demote(err)
		return false
	}

	// A scene command reply may have arrived alongside the status line.
	if n := sess.Drain(); n > 0 {
		c.logDebug("discarded stale bytes after poll", "bytes", n)
	}

	status, ok := ParseStatus(line)
	if !ok {
		c.parseMisses.Add(1)
		return true
	}
	c.statusReplies.Add(1)
	c.recordStatus(status)

	if c.State() != StateReady {
		return false
	}
	c.dispatch(status)
	return true
}

func (c *Controller) recordStatus(status Status) {
	c.scenesMu.Lock()
	defer c.scenesMu.Unlock()

	for i := range c.scenes {
		if i < len(status) {
			c.scenes[i] = status[i]
		}
	}
	c.lastStatus = time.Now()
}

// dispatch invokes the handlers of units 1..8 with their reported scene.
// Positions beyond the eighth have no control unit and are ignored.
func (c *Controller) dispatch(status Status) {
	for u := MinControlUnit; u <= MaxControlUnit; u++ {
		scene, ok := status.Scene(u)
		if !ok {
			return
		}
		for _, h := range c.handlersFor(u) {
			c.invoke(u, h, scene)
		}
	}
}

func (c *Controller) handlersFor(unit ControlUnit) []SceneHandler {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()

	hs := c.handlers[unit.index()]
	if len(hs) == 0 {
		return nil
	}
	out := make([]SceneHandler, len(hs))
	copy(out, hs)
	return out
}

// invoke runs one handler, containing any panic to that handler.
func (c *Controller) invoke(unit ControlUnit, h SceneHandler, scene Scene) {
	defer func() {
		if r := recover(); r != nil {
			c.callbackPanics.Add(1)
			c.logError("scene handler panic recovered", fmt.Errorf("%v", r),
				"unit", int(unit),
				"scene", scene)
		}
	}()
	h.OnSceneObserved(scene)
}

// =============================================================================
// Logging
// =============================================================================

func (c *Controller) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, err error, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
