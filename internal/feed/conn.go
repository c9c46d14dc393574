package feed

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Feed connection: owns the single live-feed websocket.
// State machine: disconnected -> connecting -> connected -> disconnected,
// with at most one fixed-delay reconnect pending at any time. Events missed
// while disconnected are lost; this is a best-effort monitor, not a log.
// ---------------------------------------------------------------------------

// State is the connection lifecycle state, as shown to the dashboard.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Handler receives classified domain events from the connection.
// Called from the single read goroutine; invocations are serialized.
type Handler interface {
	OnTokenCreated(evt TokenCreationEvent)
	OnTrade(evt TradeEvent)
}

// Config configures the feed connection.
type Config struct {
	Endpoint          string `yaml:"endpoint"`
	ReconnectDelayMs  int    `yaml:"reconnect_delay_ms"`
	PingIntervalS     int    `yaml:"ping_interval_s"`
	HandshakeTimeoutS int    `yaml:"handshake_timeout_s"`
	ReadTimeoutS      int    `yaml:"read_timeout_s"`
}

// DefaultConfig returns defaults for the public pumpportal feed.
func DefaultConfig() Config {
	return Config{
		Endpoint:          "wss://pumpportal.fun/api/data",
		ReconnectDelayMs:  5000,
		PingIntervalS:     30,
		HandshakeTimeoutS: 10,
		ReadTimeoutS:      60,
	}
}

// Conn manages the live-feed websocket, subscription bookkeeping, and
// reconnect scheduling. Consumers never see raw wire messages; events are
// classified by the router and handed to the Handler.
type Conn struct {
	config  Config
	handler Handler

	mu             sync.Mutex
	state          State
	ws             *websocket.Conn
	subscribed     map[string]struct{} // mints with a trade subscription
	reconnectTimer *time.Timer
	gen            uint64 // bumped on Start/Stop to invalidate stale loops and timers

	messagesRecv atomic.Int64
	ignored      atomic.Int64
	tokenEvents  atomic.Int64
	tradeEvents  atomic.Int64
	reconnects   atomic.Int64
}

// NewConn creates a feed connection. It does not dial until Start.
func NewConn(config Config, handler Handler) *Conn {
	return &Conn{
		config:     config,
		handler:    handler,
		state:      StateDisconnected,
		subscribed: make(map[string]struct{}),
	}
}

// Start opens the connection. No-op when already connecting or connected.
// A pending reconnect timer is cancelled: an explicit Start takes over.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.cancelReconnectLocked()
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.run(gen)
}

// Stop unsubscribes all mints, closes the connection, clears subscription
// bookkeeping, and cancels any pending reconnect. A later Start is clean.
func (c *Conn) Stop() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	c.gen++

	if c.ws != nil && c.state == StateConnected {
		for mint := range c.subscribed {
			msg := controlMessage{Method: methodUnsubscribeTokenTrade, Keys: []string{mint}}
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("feed: unsubscribe on stop failed")
				break
			}
		}
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.subscribed = make(map[string]struct{})
	c.state = StateDisconnected
	c.mu.Unlock()

	log.Info().Msg("feed: stopped")
}

// SubscribeTrade subscribes to trade events for a mint. When disconnected
// the mint is remembered and replayed on the next successful connect.
// Subscribing twice is a no-op.
func (c *Conn) SubscribeTrade(mint string) {
	c.mu.Lock()
	if _, ok := c.subscribed[mint]; ok {
		c.mu.Unlock()
		return
	}
	c.subscribed[mint] = struct{}{}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		if err := c.send(controlMessage{Method: methodSubscribeTokenTrade, Keys: []string{mint}}); err != nil {
			log.Debug().Err(err).Str("mint", mint).Msg("feed: subscribe write failed")
		}
	}
}

// UnsubscribeTrade drops the trade subscription for a mint.
func (c *Conn) UnsubscribeTrade(mint string) {
	c.mu.Lock()
	if _, ok := c.subscribed[mint]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subscribed, mint)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		if err := c.send(controlMessage{Method: methodUnsubscribeTokenTrade, Keys: []string{mint}}); err != nil {
			log.Debug().Err(err).Str("mint", mint).Msg("feed: unsubscribe write failed")
		}
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribedMints returns the mints with an active or pending trade subscription.
func (c *Conn) SubscribedMints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	mints := make([]string, 0, len(c.subscribed))
	for m := range c.subscribed {
		mints = append(mints, m)
	}
	return mints
}

// Stats reports connection statistics.
type Stats struct {
	State         State `json:"state"`
	MessagesRecv  int64 `json:"messages_recv"`
	Ignored       int64 `json:"ignored"`
	TokenEvents   int64 `json:"token_events"`
	TradeEvents   int64 `json:"trade_events"`
	Reconnects    int64 `json:"reconnects"`
	Subscriptions int   `json:"subscriptions"`
}

func (c *Conn) Stats() Stats {
	c.mu.Lock()
	state := c.state
	subs := len(c.subscribed)
	c.mu.Unlock()
	return Stats{
		State:         state,
		MessagesRecv:  c.messagesRecv.Load(),
		Ignored:       c.ignored.Load(),
		TokenEvents:   c.tokenEvents.Load(),
		TradeEvents:   c.tradeEvents.Load(),
		Reconnects:    c.reconnects.Load(),
		Subscriptions: subs,
	}
}

// run dials and, on success, subscribes and reads until disconnect.
// gen guards against a Stop (or a newer Start) that raced the dial.
func (c *Conn) run(gen uint64) {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(c.config.HandshakeTimeoutS) * time.Second,
	}
	ws, _, err := dialer.Dial(c.config.Endpoint, nil)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("endpoint", c.config.Endpoint).Msg("feed: connection failed")
		c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		return
	}
	c.ws = ws
	c.state = StateConnected
	replay := make([]string, 0, len(c.subscribed))
	for mint := range c.subscribed {
		replay = append(replay, mint)
	}
	c.mu.Unlock()

	log.Info().Str("endpoint", c.config.Endpoint).Msg("feed: connected")

	if err := c.send(controlMessage{Method: methodSubscribeNewToken}); err != nil {
		log.Warn().Err(err).Msg("feed: subscribeNewToken write failed")
	}
	for _, mint := range replay {
		if err := c.send(controlMessage{Method: methodSubscribeTokenTrade, Keys: []string{mint}}); err != nil {
			log.Warn().Err(err).Str("mint", mint).Msg("feed: subscription replay failed")
		}
	}

	done := make(chan struct{})
	go c.pingLoop(ws, done)
	c.readLoop(ws, gen)
	close(done)
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	readTimeout := time.Duration(c.config.ReadTimeoutS) * time.Second

	for {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen {
				// Stop or a newer Start closed this connection deliberately.
				c.mu.Unlock()
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("feed: connection closed")
			} else {
				log.Warn().Err(err).Msg("feed: read error")
			}
			ws.Close()
			c.ws = nil
			c.scheduleReconnectLocked(gen)
			c.mu.Unlock()
			return
		}

		c.messagesRecv.Add(1)
		c.dispatch(raw)
	}
}

// dispatch classifies one raw message and hands the event to the handler.
func (c *Conn) dispatch(raw []byte) {
	cls := Classify(raw)
	switch cls.Kind {
	case KindSubscriptionAck:
		log.Debug().Str("message", cls.Ack).Msg("feed: subscription confirmed")
	case KindTokenCreated:
		c.tokenEvents.Add(1)
		if c.handler != nil {
			c.handler.OnTokenCreated(*cls.Created)
		}
	case KindTrade:
		c.tradeEvents.Add(1)
		if c.handler != nil {
			c.handler.OnTrade(*cls.Trade)
		}
	default:
		c.ignored.Add(1)
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	interval := time.Duration(c.config.PingIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Msg("feed: ping failed")
				return
			}
		}
	}
}

// scheduleReconnectLocked marks the connection disconnected and arms a single
// reconnect attempt after the fixed delay. An already-pending timer is never
// re-armed. Caller must hold c.mu.
func (c *Conn) scheduleReconnectLocked(gen uint64) {
	c.state = StateDisconnected
	if c.reconnectTimer != nil {
		return
	}

	delay := time.Duration(c.config.ReconnectDelayMs) * time.Millisecond
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if gen != c.gen || c.state != StateDisconnected {
			// Stop cancelled us, or an explicit Start already took over.
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.gen++
		next := c.gen
		c.mu.Unlock()

		c.reconnects.Add(1)
		log.Info().Msg("feed: reconnecting")
		go c.run(next)
	})
}

func (c *Conn) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// send writes a control message on the current connection.
func (c *Conn) send(msg controlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("feed: not connected")
	}
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("feed: write %s: %w", msg.Method, err)
	}
	return nil
}
