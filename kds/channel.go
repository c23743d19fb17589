package kds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
)

const (
	DefaultMaxAttempts  = 2
	DefaultBackoff      = 3 * time.Second
	DefaultPingInterval = 25 * time.Second
)

type ChannelConfig struct {
	// URL of the websocket endpoint, e.g. ws://host:8080/ws.
	URL   string
	Token func(ctx context.Context) (string, error)
	Rooms []string

	// MaxAttempts is how many reconnects follow a failed dial or a dropped
	// connection before the channel goes degraded.
	MaxAttempts  int
	Backoff      time.Duration
	PingInterval time.Duration

	Dialer *websocket.Dialer
	Clock  utils.Clock
	Log    logrus.FieldLogger
}

// Channel is the client side of the push transport. It owns the connection
// lifecycle: bounded retry with fixed backoff, then degraded until Reconnect.
type Channel struct {
	cfg ChannelConfig
	id  string
	log logrus.FieldLogger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	rooms    []string
	onEvent  []func(models.StatusEvent)
	onFrame  []func(Message)
	onState  []func(State)
	writeMu  sync.Mutex
	wake     chan struct{}
	attempts int
}

func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	} else if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	cfg.Clock = utils.ClockOrReal(cfg.Clock)

	id := uuid.NewString()
	return &Channel{
		cfg:   cfg,
		id:    id,
		log:   utils.Logger(cfg.Log).WithField("channel", id[:8]),
		state: StateDisconnected,
		rooms: append([]string(nil), cfg.Rooms...),
		wake:  make(chan struct{}, 1),
	}
}

// WebsocketURL turns the store's REST base URL into its websocket endpoint.
func WebsocketURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DialAttempts counts every dial since the channel was created.
func (c *Channel) DialAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// OnEvent registers an observer for status events. Observers run on the
// reader goroutine in arrival order.
func (c *Channel) OnEvent(fn func(models.StatusEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = append(c.onEvent, fn)
}

// OnFrame registers an observer for frames that are not status events
// (disbursements, relayed peer signals).
func (c *Channel) OnFrame(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = append(c.onFrame, fn)
}

func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := append(([]func(State))(nil), c.onState...)
	c.mu.Unlock()

	c.log.WithField("state", s).Info("event channel state changed")
	for _, fn := range observers {
		fn(s)
	}
}

// Subscribe joins room now if connected and on every future connect.
func (c *Channel) Subscribe(room string) error {
	if !KnownRoom(room) {
		return apperrors.InvalidState("unknown room %q", room)
	}
	c.mu.Lock()
	for _, r := range c.rooms {
		if r == room {
			c.mu.Unlock()
			return nil
		}
	}
	c.rooms = append(c.rooms, room)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		return c.send(Message{Event: models.EventJoin, Room: room})
	}
	return nil
}

func (c *Channel) Unsubscribe(room string) error {
	c.mu.Lock()
	for i, r := range c.rooms {
		if r == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			break
		}
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		return c.send(Message{Event: models.EventLeave, Room: room})
	}
	return nil
}

// Publish relays msg to the other members of room.
func (c *Channel) Publish(room string, msg Message) error {
	inner, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.send(Message{Event: models.EventPublish, Room: room, Data: inner})
}

func (c *Channel) send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperrors.Transport("event channel send", fmt.Errorf("not connected"))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return apperrors.Transport("event channel send", err)
	}
	return nil
}

// Reconnect wakes a degraded channel for another round of attempts.
func (c *Channel) Reconnect() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run owns the connection until ctx ends. It never returns an error for
// transport failures; those only move the channel between states.
func (c *Channel) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)
	for {
		conn, err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.log.Warnf("event channel unavailable, falling back to polling: %v", err)
			c.setState(StateDegraded)
			select {
			case <-ctx.Done():
				return nil
			case <-c.wake:
				continue
			}
		}

		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("event channel dropped")
		c.setState(StateDisconnected)
	}
}

// connect makes one dial plus up to MaxAttempts retries.
func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	c.setState(StateConnecting)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.cfg.Clock.After(c.cfg.Backoff):
			}
		}
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.log.WithField("attempt", attempt+1).Debugf("dial failed: %v", err)
	}
	return nil, apperrors.Transport("event channel connect", lastErr)
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	c.attempts++
	rooms := append([]string(nil), c.rooms...)
	c.mu.Unlock()

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	header := http.Header{}
	if c.cfg.Token != nil {
		token, err := c.cfg.Token(ctx)
		if err != nil {
			return nil, err
		}
		q.Set("token", token)
		header.Set("Authorization", "Bearer "+token)
	}
	if len(rooms) > 0 {
		q.Set("rooms", strings.Join(rooms, ","))
	}
	q.Set("client_id", c.id)
	u.RawQuery = q.Encode()

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	readWait := 2 * c.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := c.send(Message{Event: models.EventPing}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if _, ok := err.(*json.SyntaxError); ok {
				continue
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg Message) {
	c.mu.Lock()
	onEvent := append(([]func(models.StatusEvent))(nil), c.onEvent...)
	onFrame := append(([]func(Message))(nil), c.onFrame...)
	c.mu.Unlock()

	switch msg.Event {
	case models.EventPong:
		return
	case models.EventOrderStatusUpdated, models.EventKOTStatusUpdated, models.EventTableStatusUpdated, models.EventTableCreated:
		ev, err := decodeStatusEvent(msg)
		if err != nil {
			c.log.WithField("event", msg.Event).Warnf("dropping malformed frame: %v", err)
			return
		}
		for _, fn := range onEvent {
			fn(ev)
		}
		if msg.Event != models.EventTableCreated {
			return
		}
	}
	for _, fn := range onFrame {
		fn(msg)
	}
}

func decodeStatusEvent(msg Message) (models.StatusEvent, error) {
	var ev models.StatusEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, err
	}
	if ev.Kind == "" {
		switch msg.Event {
		case models.EventOrderStatusUpdated:
			ev.Kind = status.KindOrder
		case models.EventKOTStatusUpdated:
			ev.Kind = status.KindKOT
		default:
			ev.Kind = status.KindTable
		}
	}
	if ev.EntityID == 0 || ev.Status == "" {
		return ev, fmt.Errorf("%s frame without entity or status", msg.Event)
	}
	ev.Source = models.SourcePush
	return ev, nil
}
