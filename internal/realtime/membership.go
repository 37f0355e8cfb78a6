package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

// Notifier is what the REST layer calls after it changes who belongs to a
// chat or what the chat looks like.
type Notifier interface {
	NotifyMembershipChanged(ctx context.Context, chatID, userID string, change chat.MembershipChange)
	NotifyChatUpdated(ctx context.Context, chatID string)
}

type MembershipEvent struct {
	ChatID string                `json:"chatId"`
	Change chat.MembershipChange `json:"change"`
	Chat   *chat.Chat            `json:"chat,omitempty"`
}

type ChatEvent struct {
	ChatID string     `json:"chatId"`
	Chat   *chat.Chat `json:"chat"`
}

// Membership keeps each connection's room set equal to the user's chats.
type Membership struct {
	gw      chat.Gateway
	hub     *Hub
	log     *zap.Logger
	timeout time.Duration

	// gen counts membership changes per user so Sync can tell whether its
	// chat list went stale while it was subscribing.
	mu  sync.Mutex
	gen map[string]uint64
}

var _ Notifier = (*Membership)(nil)

func NewMembership(gw chat.Gateway, hub *Hub, log *zap.Logger, timeout time.Duration) *Membership {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Membership{gw: gw, hub: hub, log: log, timeout: timeout, gen: make(map[string]uint64)}
}

const maxSyncPasses = 3

func (m *Membership) generation(userID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen[userID]
}

func (m *Membership) bump(userID string) {
	m.mu.Lock()
	m.gen[userID]++
	m.mu.Unlock()
}

// Sync makes c's room set equal to the active chats its user belongs to and
// returns the room ids. A membership change that lands while the list is in
// flight triggers another pass, so a removal is never undone by a stale read.
func (m *Membership) Sync(ctx context.Context, c *Conn) ([]string, error) {
	ctx, cancel := opContext(ctx, m.timeout)
	defer cancel()

	var ids []string
	for pass := 0; pass < maxSyncPasses; pass++ {
		gen := m.generation(c.UserID)
		fresh, err := m.gw.ListChatIDsForUser(ctx, c.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: list chats: %v", chat.ErrGateway, err)
		}
		ids = fresh
		m.reconcile(c, ids)
		if m.generation(c.UserID) == gen {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Membership) reconcile(c *Conn, ids []string) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
		m.hub.Subscribe(c, id)
	}
	for _, id := range c.Rooms() {
		if _, ok := want[id]; !ok {
			m.hub.Unsubscribe(c, id)
		}
	}
}

// NotifyMembershipChanged moves every live connection of userID into or out
// of the room and tells that user.
func (m *Membership) NotifyMembershipChanged(ctx context.Context, chatID, userID string, change chat.MembershipChange) {
	m.bump(userID)
	ev := MembershipEvent{ChatID: chatID, Change: change}
	if change == chat.MembershipAdded {
		ctx, cancel := opContext(ctx, m.timeout)
		c, err := m.gw.GetChat(ctx, chatID)
		cancel()
		if err != nil {
			m.log.Warn("load chat for membership", zap.String("chat_id", chatID), zap.Error(err))
		} else {
			ev.Chat = c
		}
	}

	for _, c := range m.hub.ConnsOf(userID) {
		switch change {
		case chat.MembershipAdded:
			m.hub.Subscribe(c, chatID)
		case chat.MembershipRemoved:
			m.hub.Unsubscribe(c, chatID)
		}
	}
	m.hub.SendToUser(userID, event.New(event.MembershipUpdated, ev))
}

// NotifyChatUpdated publishes the chat's current state to its room. A
// deactivated chat also loses all its subscribers.
func (m *Membership) NotifyChatUpdated(ctx context.Context, chatID string) {
	ctx, cancel := opContext(ctx, m.timeout)
	defer cancel()
	c, err := m.gw.GetChat(ctx, chatID)
	if err != nil {
		m.log.Warn("load chat for update", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	m.hub.Publish(chatID, event.New(event.ChatUpdated, ChatEvent{ChatID: chatID, Chat: c}), event.Filter{})
	if !c.IsActive {
		m.hub.UnsubscribeAll(chatID)
	}
}
