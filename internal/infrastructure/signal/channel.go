package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
	"streamcart/pkg/retry"
	"streamcart/pkg/validation"
)

// Recorder receives channel-level metrics. A nil Recorder disables reporting.
type Recorder interface {
	RecordMessageIn(msgType string)
	RecordMessageOut(msgType string)
	RecordReconnect()
	SetConnectionState(state string)
}

// Callbacks are optional hooks fired on connection lifecycle transitions,
// in addition to the synthetic messages dispatched to On subscribers.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func(code int, reason string)
	OnError        func(err error)
}

// Options configures a Channel.
type Options struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	WriteTimeout         time.Duration
	MessagesPerSecond    float64
	MessageBurst         int
	Callbacks            Callbacks
	Recorder             Recorder
}

type handlerEntry struct {
	id ports.HandlerID
	fn ports.MessageHandler
}

// Channel is a reconnecting websocket signaling transport. A single Channel
// serves one (client, room) identity at a time; reconnecting always discards
// the previous transport before dialing a new one.
type Channel struct {
	opts    Options
	logger  *zap.SugaredLogger
	limiter *rate.Limiter
	backoff retry.Config
	dialer  *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	state         domain.ConnectionState
	clientID      domain.ClientID
	roomID        domain.RoomID
	connecting     bool
	attempts       int
	generation     uint64
	done           chan struct{}
	reconnectTimer *time.Timer

	handlersMu    sync.RWMutex
	handlers      map[string][]handlerEntry
	nextHandlerID ports.HandlerID

	writeMu sync.Mutex
}

// NewChannel validates the endpoint and returns a disconnected Channel.
func NewChannel(opts Options, logger *zap.SugaredLogger) (*Channel, error) {
	if err := validation.ValidateWebSocketURL(opts.URL); err != nil {
		return nil, err
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 45 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	c := &Channel{
		opts:     opts,
		logger:   logger,
		state:    domain.StateDisconnected,
		handlers: make(map[string][]handlerEntry),
		backoff: retry.Config{
			InitialDelay: opts.ReconnectBaseDelay,
			MaxDelay:     2 * time.Minute,
			Multiplier:   2.0,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	if opts.MessagesPerSecond > 0 {
		burst := opts.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst)
	}
	return c, nil
}

// Connect opens the transport for the given identity, sends the join message
// and announces the connection to subscribers. It fails fast when identity is
// missing or another attempt is in flight.
func (c *Channel) Connect(ctx context.Context, clientID domain.ClientID, roomID domain.RoomID) error {
	if clientID == "" || roomID == "" {
		return domain.ErrMissingIdentity
	}
	if err := validation.ValidateClientID(string(clientID)); err != nil {
		return err
	}
	if err := validation.ValidateRoomID(string(roomID)); err != nil {
		return err
	}

	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return domain.ErrConnectInProgress
	}
	c.connecting = true
	c.clientID = clientID
	c.roomID = roomID
	c.state = domain.StateConnecting
	c.dropTransportLocked()
	c.mu.Unlock()

	c.setMetricState("connecting")

	endpoint, err := c.endpoint(clientID, roomID)
	if err != nil {
		c.failConnect(err)
		return err
	}

	c.logger.Infow("connecting to signaling server", "url", endpoint, "client_id", clientID, "room", roomID)

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.failConnect(err)
		c.scheduleReconnect()
		return fmt.Errorf("dial signaling server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = domain.StateConnected
	c.connecting = false
	c.attempts = 0
	c.generation++
	gen := c.generation
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	go c.readPump(gen, conn)
	go c.pingLoop(conn, done)

	join, _ := json.Marshal(domain.JoinPayload{
		ClientID: clientID,
		Role:     roleFor(clientID),
	})
	if err := c.write(conn, &domain.SignalMessage{
		Type:     domain.MsgJoin,
		Room:     roomID,
		Data:     join,
		ClientID: clientID,
	}); err != nil {
		c.logger.Warnw("failed to send join", "error", err)
	}

	c.setMetricState("connected")
	c.logger.Infow("signaling channel connected", "client_id", clientID, "room", roomID, "role", roleFor(clientID))

	connected, _ := json.Marshal(domain.PresencePayload{ClientID: clientID})
	c.dispatch(&domain.SignalMessage{Type: domain.MsgConnected, Room: roomID, Data: connected, ClientID: clientID})
	if c.opts.Callbacks.OnConnected != nil {
		c.opts.Callbacks.OnConnected()
	}
	return nil
}

// Send transmits a message over the open transport, filling in the room and
// client identifiers when the caller left them empty.
func (c *Channel) Send(msg *domain.SignalMessage) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	if msg.Room == "" {
		msg.Room = c.roomID
	}
	if msg.ClientID == "" {
		msg.ClientID = c.clientID
	}
	c.mu.Unlock()

	if conn == nil || state != domain.StateConnected {
		c.logger.Warnw("send on closed signaling channel", "type", msg.Type)
		return domain.ErrNotConnected
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warnw("outbound message rate exceeded", "type", msg.Type)
		return fmt.Errorf("message rate exceeded for %s", msg.Type)
	}
	if err := c.write(conn, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	if c.opts.Recorder != nil {
		c.opts.Recorder.RecordMessageOut(msg.Type)
	}
	return nil
}

// On registers a handler for a message type. Handlers registered for the same
// type run in registration order.
func (c *Channel) On(msgType string, h ports.MessageHandler) ports.HandlerID {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.handlers[msgType] = append(c.handlers[msgType], handlerEntry{id: id, fn: h})
	return id
}

// Off removes a previously registered handler.
func (c *Channel) Off(msgType string, id ports.HandlerID) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	entries := c.handlers[msgType]
	for i, e := range entries {
		if e.id == id {
			c.handlers[msgType] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Disconnect performs a deliberate shutdown: normal closure, reconnect timer
// cancelled, counters reset and every handler registration dropped. The
// channel can be reused with a fresh Connect and fresh subscriptions.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.state = domain.StateClosing
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.generation++
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.connecting = false
	c.state = domain.StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.handlersMu.Lock()
	c.handlers = make(map[string][]handlerEntry)
	c.handlersMu.Unlock()

	c.setMetricState("disconnected")
	c.logger.Infow("signaling channel disconnected")
}

// State returns the current connection state.
func (c *Channel) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the client and room the channel was last connected with.
func (c *Channel) Identity() (domain.ClientID, domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID, c.roomID
}

func (c *Channel) endpoint(clientID domain.ClientID, roomID domain.RoomID) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	q.Set("client_id", string(clientID))
	q.Set("room", string(roomID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) write(conn *websocket.Conn, msg *domain.SignalMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (c *Channel) readPump(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		var msg domain.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debugw("malformed signaling message", "error", err)
			continue
		}
		if c.opts.Recorder != nil {
			c.opts.Recorder.RecordMessageIn(msg.Type)
		}
		c.dispatch(&msg)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) dispatch(msg *domain.SignalMessage) {
	c.handlersMu.RLock()
	entries := make([]handlerEntry, len(c.handlers[msg.Type]))
	copy(entries, c.handlers[msg.Type])
	c.handlersMu.RUnlock()

	if len(entries) == 0 {
		c.logger.Debugw("no handler for message", "type", msg.Type)
		return
	}
	for _, e := range entries {
		e.fn(msg)
	}
}

// handleClose runs when the read pump observes a transport failure. Stale
// generations are ignored: a newer connection has already replaced this one.
func (c *Channel) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = domain.StateDisconnected
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	room := c.roomID
	c.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	c.setMetricState("disconnected")
	c.logger.Warnw("signaling connection closed", "code", code, "reason", reason)

	payload, _ := json.Marshal(domain.DisconnectPayload{Code: code, Reason: reason})
	c.dispatch(&domain.SignalMessage{Type: domain.MsgDisconnected, Room: room, Data: payload})
	if c.opts.Callbacks.OnDisconnected != nil {
		c.opts.Callbacks.OnDisconnected(code, reason)
	}

	if code == websocket.CloseNormalClosure {
		return
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms the next attempt with exponential backoff, or emits
// the terminal reconnection_failed message once attempts are exhausted.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.state == domain.StateClosing {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		room := c.roomID
		c.mu.Unlock()
		c.logger.Errorw("reconnect attempts exhausted", "attempts", c.opts.MaxReconnectAttempts)
		c.dispatch(&domain.SignalMessage{Type: domain.MsgReconnectionFailed, Room: room})
		return
	}
	c.attempts++
	attempt := c.attempts
	clientID, roomID := c.clientID, c.roomID
	delay := c.backoff.Delay(attempt)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		if c.opts.Recorder != nil {
			c.opts.Recorder.RecordReconnect()
		}
		if err := c.Connect(context.Background(), clientID, roomID); err != nil {
			c.logger.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)
		}
	})
	c.mu.Unlock()

	c.logger.Infow("scheduling reconnect", "attempt", attempt, "max", c.opts.MaxReconnectAttempts, "delay", delay)
}

func (c *Channel) failConnect(err error) {
	c.mu.Lock()
	c.connecting = false
	c.state = domain.StateDisconnected
	c.mu.Unlock()

	c.setMetricState("disconnected")
	c.logger.Errorw("signaling connect failed", "error", err)
	if c.opts.Callbacks.OnError != nil {
		c.opts.Callbacks.OnError(err)
	}
}

func (c *Channel) setMetricState(state string) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.SetConnectionState(state)
	}
}

// dropTransportLocked discards a live connection without touching reconnect
// bookkeeping. Callers hold c.mu.
func (c *Channel) dropTransportLocked() {
	if c.conn == nil {
		return
	}
	c.generation++
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.conn.Close()
	c.conn = nil
}

func roleFor(clientID domain.ClientID) string {
	if clientID.IsSeller() {
		return "publisher"
	}
	return "viewer"
}
