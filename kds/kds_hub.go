package kds

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Message is the frame exchanged over the socket: {"event": ..., "data": ...}.
// Room is set on join, leave and publish control frames.
type Message struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewMessage(event string, data interface{}) (Message, error) {
	if data == nil {
		return Message{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: raw}, nil
}

var knownRooms = map[string]bool{
	models.RoomWaiterDashboard: true,
	models.RoomKitchenUpdates:  true,
	models.RoomPantryUpdates:   true,
}

func KnownRoom(room string) bool {
	return knownRooms[room]
}

// RoomsFor -> which rooms receive a given push topic.
func RoomsFor(event string) []string {
	switch event {
	case models.EventOrderStatusUpdated, models.EventKOTStatusUpdated:
		return []string{models.RoomWaiterDashboard, models.RoomKitchenUpdates}
	case models.EventTableStatusUpdated, models.EventTableCreated:
		return []string{models.RoomWaiterDashboard}
	case models.EventDisbursement:
		return []string{models.RoomKitchenUpdates, models.RoomPantryUpdates}
	}
	return nil
}

// DefaultRooms -> the rooms a staff member joins when none are requested.
func DefaultRooms(actor models.Actor) []string {
	switch actor.SubRole {
	case models.SubRoleChef:
		return []string{models.RoomKitchenUpdates}
	case models.SubRoleManager:
		return []string{models.RoomWaiterDashboard, models.RoomKitchenUpdates}
	}
	return []string{models.RoomWaiterDashboard}
}

// Hub holds every connected socket and its room membership. Each connection
// has its own writer goroutine; the hub never writes to a socket directly.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	rooms     map[string]map[*Client]struct{}
	origin    string
	backplane Backplane
	log       logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		origin:  uuid.NewString(),
		log:     utils.Logger(log),
	}
}

// Client is one connected socket.
type Client struct {
	ID    string
	Actor models.Actor

	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	rooms     map[string]struct{}
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Serve registers conn, joins the requested rooms and blocks reading control
// frames until the peer goes away.
func (h *Hub) Serve(conn *websocket.Conn, actor models.Actor, rooms []string) {
	c := &Client{
		ID:    uuid.NewString(),
		Actor: actor,
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.register(c)
	if len(rooms) == 0 {
		rooms = DefaultRooms(actor)
	}
	for _, room := range rooms {
		h.Join(c, room)
	}

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.log.WithFields(logrus.Fields{"client": c.ID, "user_id": c.Actor.ID, "sub_role": c.Actor.SubRole}).Info("kds client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		delete(h.rooms[room], c)
	}
	c.close()
	h.log.WithField("client", c.ID).Info("kds client disconnected")
}

func (h *Hub) Join(c *Client, room string) bool {
	if !KnownRoom(room) {
		h.log.WithFields(logrus.Fields{"client": c.ID, "room": room}).Warn("join to unknown room ignored")
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], c)
	delete(c.rooms, room)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish sends msg to every member of the given rooms on this replica and
// forwards it to the backplane for the others.
func (h *Hub) Publish(msg Message, rooms ...string) {
	data, err := json.Marshal(msg)
	if err != nil {
		utils.ErrorLogger.Printf("Error marshaling message: %v", err)
		return
	}
	h.deliver(data, rooms, nil)

	if bp := h.currentBackplane(); bp != nil {
		env := Envelope{Origin: h.origin, Rooms: rooms, Payload: data}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := bp.Publish(ctx, env); err != nil {
			h.log.WithField("event", msg.Event).Warnf("backplane publish failed: %v", err)
		}
	}
}

// deliver enqueues data for each distinct member of rooms, skipping except.
// A client whose queue is full is dropped; it reconnects and repolls.
func (h *Hub) deliver(data []byte, rooms []string, except *Client) {
	var slow []*Client
	sent := make(map[*Client]struct{})

	// sends happen under the read lock so unregister cannot close a queue mid-send
	h.mu.RLock()
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if _, dup := sent[c]; dup || c == except {
				continue
			}
			sent[c] = struct{}{}
			select {
			case c.send <- data:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithField("client", c.ID).Warn("send queue full, dropping client")
		h.unregister(c)
	}
	h.log.WithFields(logrus.Fields{"rooms": rooms, "clients": len(sent)}).Debug("frame delivered")
}

func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// BroadcastStatus emits a status event on its topic to the topic's rooms.
func (h *Hub) BroadcastStatus(ev models.StatusEvent) {
	msg, err := NewMessage(ev.Topic(), ev)
	if err != nil {
		utils.ErrorLogger.Printf("Error encoding %s: %v", ev.Key(), err)
		return
	}
	h.Publish(msg, RoomsFor(msg.Event)...)
}

func (h *Hub) BroadcastTableCreated(table models.Table) {
	ev := models.TableEvent(table)
	msg, err := NewMessage(models.EventTableCreated, ev)
	if err != nil {
		utils.ErrorLogger.Printf("Error encoding table %d: %v", table.ID, err)
		return
	}
	h.Publish(msg, RoomsFor(models.EventTableCreated)...)
}

func (h *Hub) BroadcastDisbursement(d models.Disbursement) {
	msg, err := NewMessage(models.EventDisbursement, d)
	if err != nil {
		utils.ErrorLogger.Printf("Error encoding disbursement %d: %v", d.ID, err)
		return
	}
	h.Publish(msg, RoomsFor(models.EventDisbursement)...)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithField("client", c.ID).Warnf("read error: %v", err)
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(msg)
	}
}

func (c *Client) handle(msg Message) {
	switch msg.Event {
	case models.EventJoin:
		c.hub.Join(c, msg.Room)
	case models.EventLeave:
		c.hub.Leave(c, msg.Room)
	case models.EventPing:
		if data, err := json.Marshal(Message{Event: models.EventPong}); err == nil {
			c.hub.sendTo(c, data)
		}
	case models.EventPublish:
		// relay a peer signal into a room the sender belongs to
		if !KnownRoom(msg.Room) || len(msg.Data) == 0 {
			return
		}
		c.hub.mu.RLock()
		_, member := c.rooms[msg.Room]
		c.hub.mu.RUnlock()
		if !member {
			c.hub.log.WithFields(logrus.Fields{"client": c.ID, "room": msg.Room}).Warn("publish to a room the client has not joined")
			return
		}
		c.hub.deliver(msg.Data, []string{msg.Room}, c)
	default:
		c.hub.log.WithFields(logrus.Fields{"client": c.ID, "event": msg.Event}).Debug("ignoring client frame")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
