package realtime

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/event"
)

// Hub tracks live connections by room and by user and fans events out to
// them. It implements event.Publisher.
type Hub struct {
	rooms   *index
	users   *index
	log     *zap.Logger
	metrics *Metrics
}

var _ event.Publisher = (*Hub)(nil)

func NewHub(log *zap.Logger, m *Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Hub{rooms: newIndex(), users: newIndex(), log: log, metrics: m}
}

// Register adds c under its user. first reports whether c is the user's only
// live connection.
func (h *Hub) Register(c *Conn) (first bool) {
	n := h.users.add(c.UserID, c)
	h.metrics.Connections.Inc()
	if n == 1 {
		h.metrics.OnlineUsers.Inc()
	}
	return n == 1
}

// Unregister drops c from every room and from its user. last reports whether
// the user has no live connection left. Calling it twice is harmless.
func (h *Hub) Unregister(c *Conn) (last bool) {
	c.mu.Lock()
	c.detached = true
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	for _, id := range rooms {
		h.rooms.remove(id, c)
	}
	remaining, removed := h.users.remove(c.UserID, c)
	if !removed {
		return false
	}
	h.metrics.Connections.Dec()
	if remaining == 0 {
		h.metrics.OnlineUsers.Dec()
		return true
	}
	return false
}

// Subscribe joins c to roomID. It is idempotent and a no-op once c has been
// unregistered.
func (h *Hub) Subscribe(c *Conn, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return
	}
	if _, ok := c.rooms[roomID]; ok {
		return
	}
	c.rooms[roomID] = struct{}{}
	h.rooms.add(roomID, c)
}

// Unsubscribe removes c from roomID. c.mu is held across the index update so
// a concurrent Subscribe cannot leave the index and c.rooms disagreeing.
func (h *Hub) Unsubscribe(c *Conn, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return
	}
	delete(c.rooms, roomID)
	h.rooms.remove(roomID, c)
}

// UnsubscribeAll removes every connection from roomID.
func (h *Hub) UnsubscribeAll(roomID string) {
	for _, c := range h.rooms.snapshot(roomID) {
		h.Unsubscribe(c, roomID)
	}
}

// ConnsOf returns the user's live connections.
func (h *Hub) ConnsOf(userID string) []*Conn {
	return h.users.snapshot(userID)
}

func (h *Hub) IsOnline(userID string) bool {
	return h.users.count(userID) > 0
}

func (h *Hub) OnlineUsers() int {
	return h.users.keys()
}

func (h *Hub) RoomSize(roomID string) int {
	return h.rooms.count(roomID)
}

// Publish delivers ev to every subscriber of roomID that passes f.
func (h *Hub) Publish(roomID string, ev event.Event, f event.Filter) int {
	return h.deliver(ev, h.rooms.snapshot(roomID), f)
}

// SendToUser delivers ev to every live connection of userID.
func (h *Hub) SendToUser(userID string, ev event.Event) int {
	return h.deliver(ev, h.users.snapshot(userID), event.Filter{})
}

// Broadcast delivers ev to every live connection that passes f.
func (h *Hub) Broadcast(ev event.Event, f event.Filter) int {
	return h.deliver(ev, h.users.all(), f)
}

// Send queues ev on a single connection.
func (h *Hub) Send(c *Conn, ev event.Event) bool {
	return h.deliver(ev, []*Conn{c}, event.Filter{}) == 1
}

// deliver serializes ev once and queues it on each target. A target whose
// queue is full is closed; the client reconnects and re-fetches.
func (h *Hub) deliver(ev event.Event, targets []*Conn, f event.Filter) int {
	if len(targets) == 0 {
		return 0
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return 0
	}

	n := 0
	for _, c := range targets {
		if f.ExceptConn != "" && c.ID == f.ExceptConn {
			continue
		}
		if f.ExceptUser != "" && c.UserID == f.ExceptUser {
			continue
		}
		if c.Enqueue(payload) {
			n++
			continue
		}
		if c.Closed() {
			continue
		}
		h.metrics.Dropped.Inc()
		h.log.Warn("outbound queue full, closing connection",
			zap.String("conn_id", c.ID),
			zap.String("user_id", c.UserID),
			zap.String("type", string(ev.Type)),
		)
		c.Close()
	}
	h.metrics.Published.WithLabelValues(string(ev.Type)).Inc()
	return n
}
