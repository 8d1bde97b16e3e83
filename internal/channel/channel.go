package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
)

// ErrDisabled is returned by Connect while the owner has the channel switched off.
var ErrDisabled = errors.New("notification channel disabled")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	// APIBaseURL is the REST base the push endpoint is derived from.
	APIBaseURL string
	// URL overrides the derived endpoint when set.
	URL                  string
	Enabled              bool
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

// Channel is the single push connection of a notification session.
//
// Every connection attempt gets a generation number. Callbacks from reads,
// timers and dials carry the generation they were started under and are
// ignored once it is stale, so a failure is handled exactly once and at most
// one reconnect chain exists at any time.
type Channel struct {
	config  Config
	creds   Credentials
	dialer  Dialer
	clock   Clock
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	enabled   bool
	attempt   int
	gen       uint64
	conn      Conn
	reconnect Timer
	heartbeat Timer

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	listenersMu  sync.RWMutex
	listeners    []listenerEntry
	nextListener int
}

type listenerEntry struct {
	id int
	l  Listener
}

func New(
	config Config,
	creds Credentials,
	dialer Dialer,
	clock Clock,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Channel {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.ReconnectBase <= 0 {
		config.ReconnectBase = time.Second
	}
	if config.ReconnectMax < config.ReconnectBase {
		config.ReconnectMax = 10 * config.ReconnectBase
	}
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	if clock == nil {
		clock = SystemClock()
	}
	if p, ok := creds.(CredentialProvider); ok && p == nil {
		creds = nil
	}

	return &Channel{
		config:  config,
		creds:   creds,
		dialer:  dialer,
		clock:   clock,
		logger:  logger.Component("channel"),
		metrics: metrics,
		enabled: config.Enabled,
	}
}

// Subscribe registers l and returns a function that removes it.
func (c *Channel) Subscribe(l Listener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, listenerEntry{id: id, l: l})

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsConnected() bool {
	return c.State() == StateOpen
}

func (c *Channel) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Channel) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Connect opens the push connection. It is a no-op while a connection is
// being established or already open. A failed attempt is reported to
// listeners, enters the reconnect path and is also returned.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return ErrDisabled
	}
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	return c.dial(ctx, gen)
}

// SetEnabled switches the channel on or off. Enabling resets the reconnect
// budget and connects; disabling disconnects.
func (c *Channel) SetEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	c.enabled = enabled
	if enabled && c.state == StateDisconnected {
		c.attempt = 0
	}
	c.mu.Unlock()

	if !enabled {
		c.Disconnect()
		return nil
	}
	return c.Connect(ctx)
}

// Disconnect closes the connection with a normal closure and cancels any
// pending reconnect or heartbeat. Safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	c.attempt = 0
	if c.state == StateDisconnected && c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	conn := c.conn
	c.conn = nil
	wasOpen := c.state == StateOpen
	c.state = StateClosing
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		c.writeMu.Lock()
		if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
			c.logger.Debug("Failed to send close frame", "error", err.Error())
		}
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.mu.Lock()
	if c.gen == gen {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if wasOpen {
		c.metrics.ChannelConnected.Set(0)
		c.logger.Info("Notification channel disconnected")
		c.emitDisconnect(websocket.CloseNormalClosure)
	}
}

// Send writes frame if the connection is open. It never buffers.
func (c *Channel) Send(frame model.ClientFrame) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return false
	}

	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error(err, "Failed to encode frame", "type", string(frame.Type))
		return false
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("Failed to send frame", "type", string(frame.Type), "error", err.Error())
		return false
	}

	c.metrics.FramesSent.WithLabelValues(string(frame.Type)).Inc()
	return true
}

func (c *Channel) dial(ctx context.Context, gen uint64) error {
	token := ""
	if c.creds != nil {
		t, err := c.creds.Token(ctx)
		if err != nil {
			c.logger.Warn("Failed to fetch channel token, connecting without it", "error", err.Error())
		} else {
			token = t
		}
	}

	url, err := c.endpoint(token)
	if err != nil {
		c.connectFailed(gen, err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, url)
	if err != nil {
		c.metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		c.dropRejectedToken(err)
		err = fmt.Errorf("failed to connect notification channel: %w", err)
		c.connectFailed(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect ran while we were dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateOpen
	c.attempt = 0
	c.armHeartbeatLocked(gen)
	c.mu.Unlock()

	c.metrics.ConnectAttempts.WithLabelValues("success").Inc()
	c.metrics.ChannelConnected.Set(1)
	c.logger.Info("Notification channel connected")
	c.emitConnect()

	go c.readLoop(gen, conn)
	return nil
}

func (c *Channel) endpoint(token string) (string, error) {
	if c.config.URL != "" {
		return OverrideEndpoint(c.config.URL, token)
	}
	return Endpoint(c.config.APIBaseURL, token)
}

// dropRejectedToken makes the next attempt fetch a fresh token when the
// server refused the current one.
func (c *Channel) dropRejectedToken(err error) {
	var handshakeErr *HandshakeError
	if !errors.As(err, &handshakeErr) || !handshakeErr.Unauthorized() {
		return
	}
	if inv, ok := c.creds.(interface{ Invalidate() }); ok {
		inv.Invalidate()
		c.logger.Warn("Channel token rejected, fetching a new one on reconnect",
			"status", handshakeErr.StatusCode)
	}
}

func (c *Channel) connectFailed(gen uint64, err error) {
	if !c.current(gen) {
		return
	}
	c.logger.Warn("Notification channel connection failed", "error", err.Error())
	c.emitError(err)
	c.handleClose(gen, websocket.CloseAbnormalClosure)
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.current(gen) {
				return
			}
			code := websocket.CloseAbnormalClosure
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			} else {
				c.emitError(err)
			}
			c.handleClose(gen, code)
			return
		}
		if !c.current(gen) {
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) handleFrame(data []byte) {
	var frame model.ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.metrics.FramesDropped.Inc()
		c.logger.Debug("Dropping unparsable frame", "error", err.Error())
		return
	}

	switch frame.Type {
	case model.FrameNotification:
		var rec model.NotificationRecord
		if err := json.Unmarshal(frame.Data, &rec); err != nil {
			c.metrics.FramesDropped.Inc()
			c.logger.Debug("Dropping notification frame with bad payload", "error", err.Error())
			return
		}
		c.metrics.FramesReceived.WithLabelValues(string(frame.Type)).Inc()
		c.emitNotification(rec)
	case model.FramePong, model.FrameNotificationRead, model.FrameAllNotificationsRead:
		c.metrics.FramesReceived.WithLabelValues(string(frame.Type)).Inc()
	default:
		c.metrics.FramesDropped.Inc()
		c.logger.Debug("Dropping unknown frame", "type", string(frame.Type))
	}
}

// handleClose moves to Disconnected and decides whether to reconnect.
// Only a normal closure (1000) counts as clean; Disconnect never gets here
// because it retires the generation first.
func (c *Channel) handleClose(gen uint64, code int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.conn = nil
	c.state = StateDisconnected

	var delay time.Duration
	scheduled, exhausted := false, false
	if code != websocket.CloseNormalClosure && c.enabled {
		if c.attempt < c.config.MaxReconnectAttempts {
			delay = Backoff(c.config.ReconnectBase, c.config.ReconnectMax, c.attempt)
			c.attempt++
			c.reconnect = c.clock.AfterFunc(delay, func() { c.reconnectNow(gen) })
			scheduled = true
		} else {
			exhausted = true
		}
	}
	attempt := c.attempt
	c.mu.Unlock()

	c.metrics.ChannelConnected.Set(0)
	c.emitDisconnect(code)

	switch {
	case scheduled:
		c.metrics.ReconnectsScheduled.Inc()
		c.logger.Info("Reconnect scheduled",
			"code", code,
			"attempt", attempt,
			"delay", delay.String())
	case exhausted:
		c.metrics.ReconnectsExhausted.Inc()
		c.logger.Warn("Reconnect attempts exhausted, falling back to polling",
			"code", code,
			"attempts", attempt)
	default:
		c.logger.Info("Notification channel closed", "code", code)
	}
}

func (c *Channel) reconnectNow(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.enabled || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	c.gen++
	next := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	// failures are already reported and rescheduled by dial
	_ = c.dial(context.Background(), next)
}

func (c *Channel) armHeartbeatLocked(gen uint64) {
	c.heartbeat = c.clock.AfterFunc(c.config.HeartbeatInterval, func() { c.beat(gen) })
}

func (c *Channel) beat(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.armHeartbeatLocked(gen)
	c.mu.Unlock()

	c.Send(model.PingFrame())
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Channel) snapshot() []Listener {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	out := make([]Listener, len(c.listeners))
	for i, e := range c.listeners {
		out[i] = e.l
	}
	return out
}

func (c *Channel) emitConnect() {
	for _, l := range c.snapshot() {
		l.OnConnect()
	}
}

func (c *Channel) emitDisconnect(code int) {
	for _, l := range c.snapshot() {
		l.OnDisconnect(code)
	}
}

func (c *Channel) emitNotification(rec model.NotificationRecord) {
	for _, l := range c.snapshot() {
		l.OnNotification(rec)
	}
}

func (c *Channel) emitError(err error) {
	for _, l := range c.snapshot() {
		l.OnError(err)
	}
}
