package kds

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

func init() {
	utils.Silence(io.Discard)
	gin.SetMode(gin.TestMode)
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newHubServer serves the hub on /ws; the sub_role query parameter stands in
// for the authenticated actor.
func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		conn, err := testUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		var rooms []string
		if raw := c.Query("rooms"); raw != "" {
			rooms = strings.Split(raw, ",")
		}
		hub.Serve(conn, models.Actor{ID: 1, SubRole: c.Query("sub_role")}, rooms)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu     sync.Mutex
	events []models.StatusEvent
	frames []Message
}

func (r *recorder) event(ev models.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) frame(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func startChannel(t *testing.T, cfg ChannelConfig) (*Channel, *recorder) {
	t.Helper()
	ch := NewChannel(cfg)
	rec := &recorder{}
	ch.OnEvent(rec.event)
	ch.OnFrame(rec.frame)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ch, rec
}

func TestRoomsFor(t *testing.T) {
	assert.ElementsMatch(t, []string{models.RoomWaiterDashboard, models.RoomKitchenUpdates}, RoomsFor(models.EventKOTStatusUpdated))
	assert.Equal(t, []string{models.RoomWaiterDashboard}, RoomsFor(models.EventTableStatusUpdated))
	assert.ElementsMatch(t, []string{models.RoomKitchenUpdates, models.RoomPantryUpdates}, RoomsFor(models.EventDisbursement))
	assert.Nil(t, RoomsFor("payment_update"))
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", WebsocketURL("http://localhost:8080/"))
	assert.Equal(t, "wss://resto.example/ws", WebsocketURL("https://resto.example"))
}

func TestBroadcastReachesOnlyRoomMembers(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)
	url := WebsocketURL(srv.URL)

	kitchen, kitchenRec := startChannel(t, ChannelConfig{URL: url, Rooms: []string{models.RoomKitchenUpdates}})
	waiter, waiterRec := startChannel(t, ChannelConfig{URL: url, Rooms: []string{models.RoomWaiterDashboard}})

	require.Eventually(t, func() bool {
		return kitchen.State() == StateConnected && waiter.State() == StateConnected &&
			hub.RoomSize(models.RoomKitchenUpdates) == 1 && hub.RoomSize(models.RoomWaiterDashboard) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastStatus(models.KOTEvent(models.KOT{ID: 7, OrderID: 3, Status: status.KOTReady, Version: 4}))
	hub.BroadcastStatus(models.TableEvent(models.Table{ID: 2, Status: status.TableOccupied, Version: 9}))

	require.Eventually(t, func() bool { return waiterRec.eventCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return kitchenRec.eventCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	kitchenRec.mu.Lock()
	ev := kitchenRec.events[0]
	kitchenRec.mu.Unlock()
	assert.Equal(t, status.KindKOT, ev.Kind)
	assert.Equal(t, uint(7), ev.EntityID)
	assert.Equal(t, "ready", ev.Status)
	assert.Equal(t, uint64(4), ev.Seq)
	assert.Equal(t, models.SourcePush, ev.Source)

	var kot models.KOT
	require.NoError(t, ev.DecodeSnapshot(&kot))
	assert.Equal(t, uint(3), kot.OrderID)
}

func TestDefaultRoomsBySubRole(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)

	ch, _ := startChannel(t, ChannelConfig{URL: WebsocketURL(srv.URL) + "?sub_role=chef"})
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return hub.RoomSize(models.RoomKitchenUpdates) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.RoomSize(models.RoomWaiterDashboard))
}

func TestSubscribeAndPublishRelay(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)
	url := WebsocketURL(srv.URL)

	a, aRec := startChannel(t, ChannelConfig{URL: url, Rooms: []string{models.RoomWaiterDashboard}})
	b, bRec := startChannel(t, ChannelConfig{URL: url, Rooms: []string{models.RoomKitchenUpdates}})
	require.Eventually(t, func() bool {
		return a.State() == StateConnected && b.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Subscribe(models.RoomWaiterDashboard))
	require.Eventually(t, func() bool { return hub.RoomSize(models.RoomWaiterDashboard) == 2 }, 2*time.Second, 10*time.Millisecond)

	ev := models.OrderEvent(models.Order{ID: 11, Status: status.OrderServed, Version: 5})
	msg, err := NewMessage(ev.Topic(), ev)
	require.NoError(t, err)
	require.NoError(t, a.Publish(models.RoomWaiterDashboard, msg))

	require.Eventually(t, func() bool { return bRec.eventCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, aRec.eventCount(), "the sender does not hear its own relay")

	require.NoError(t, b.Unsubscribe(models.RoomWaiterDashboard))
	require.Eventually(t, func() bool { return hub.RoomSize(models.RoomWaiterDashboard) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, a.Subscribe("lobby"))
}

func TestDisbursementIsAFrame(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)

	ch, rec := startChannel(t, ChannelConfig{URL: WebsocketURL(srv.URL), Rooms: []string{models.RoomPantryUpdates}})
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected && hub.RoomSize(models.RoomPantryUpdates) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastDisbursement(models.Disbursement{ID: 1, ItemName: "Beef", Category: "meat", Quantity: 2})
	require.Eventually(t, func() bool { return rec.frameCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, models.EventDisbursement, rec.frames[0].Event)
	var d models.Disbursement
	require.NoError(t, json.Unmarshal(rec.frames[0].Data, &d))
	assert.Equal(t, "meat", d.Category)
	assert.Equal(t, 0, len(rec.events))
}

func TestBoundedRetryThenDegradedUntilReconnect(t *testing.T) {
	hub := NewHub(nil)
	var healthy atomic.Bool
	var dials atomic.Int32
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		dials.Add(1)
		if !healthy.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, models.Actor{ID: 1}, nil)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	var states []State
	var mu sync.Mutex
	ch := NewChannel(ChannelConfig{URL: WebsocketURL(srv.URL), Backoff: 20 * time.Millisecond})
	ch.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ch.Run(ctx)
	}()

	require.Eventually(t, func() bool { return ch.State() == StateDegraded }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1+DefaultMaxAttempts), dials.Load())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1+DefaultMaxAttempts), dials.Load(), "degraded channel stays idle")

	healthy.Store(true)
	ch.Reconnect()
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, StateDisconnected, ch.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateDegraded, StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestDroppedConnectionPassesThroughDisconnected(t *testing.T) {
	var dials atomic.Int32
	drop := make(chan struct{})
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		n := dials.Add(1)
		conn, err := testUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			<-drop
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	var states []State
	var mu sync.Mutex
	ch := NewChannel(ChannelConfig{URL: WebsocketURL(srv.URL), Backoff: 20 * time.Millisecond})
	ch.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ch.Run(ctx)
	}()

	require.Eventually(t, func() bool { return ch.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	close(drop)
	require.Eventually(t, func() bool { return dials.Load() == 2 && ch.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestPublishWhileDisconnectedIsTransportError(t *testing.T) {
	ch := NewChannel(ChannelConfig{URL: "ws://127.0.0.1:0/ws"})
	err := ch.Publish(models.RoomWaiterDashboard, Message{Event: models.EventOrderStatusUpdated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

type memBackplane struct {
	mu       sync.Mutex
	handlers []func(Envelope)
	ready    chan struct{}
}

func (b *memBackplane) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	hs := append(([]func(Envelope))(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
	return nil
}

func (b *memBackplane) Subscribe(ctx context.Context, handle func(Envelope)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handle)
	b.mu.Unlock()
	b.ready <- struct{}{}
	<-ctx.Done()
	return nil
}

func (b *memBackplane) Close() error { return nil }

func TestBackplaneFansOutAcrossHubs(t *testing.T) {
	bp := &memBackplane{ready: make(chan struct{}, 2)}
	hubA, hubB := NewHub(nil), NewHub(nil)
	hubA.SetBackplane(bp)
	hubB.SetBackplane(bp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hubA.RunBackplane(ctx) }()
	go func() { _ = hubB.RunBackplane(ctx) }()
	<-bp.ready
	<-bp.ready

	srvB := newHubServer(t, hubB)
	ch, rec := startChannel(t, ChannelConfig{URL: WebsocketURL(srvB.URL), Rooms: []string{models.RoomWaiterDashboard}})
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected && hubB.RoomSize(models.RoomWaiterDashboard) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hubA.BroadcastStatus(models.TableEvent(models.Table{ID: 4, Status: status.TableReserved, Version: 2}))
	require.Eventually(t, func() bool { return rec.eventCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.eventCount(), "a hub ignores its own echo")
}
