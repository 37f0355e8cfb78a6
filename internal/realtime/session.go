package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

// ErrAuth: the credential is missing, malformed, expired or names an unknown
// user. The handshake is refused.
var ErrAuth = errors.New("authentication failed")

const maxStatusRunes = 140

// Verifier turns a bearer credential into a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// PresenceMirror keeps a fast, shared copy of who is online. Failures are
// logged and never block a session.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

type Identity struct {
	UserID string
	User   *chat.User
}

type UserSummary struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
	Status string  `json:"status"`
}

func summarize(u *chat.User) UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Avatar: u.Avatar, Status: u.StatusText}
}

type OnlineEvent struct {
	UserID string      `json:"userId"`
	User   UserSummary `json:"user"`
}

type OfflineEvent struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type StatusEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type ReadyEvent struct {
	UserID string   `json:"userId"`
	ConnID string   `json:"connId"`
	Rooms  []string `json:"rooms"`
}

// Sessions authenticates connections and keeps presence in step with the
// number of live connections per user.
type Sessions struct {
	verifier Verifier
	gw       chat.Gateway
	hub      *Hub
	mirror   PresenceMirror
	log      *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewSessions(v Verifier, gw chat.Gateway, hub *Hub, mirror PresenceMirror, log *zap.Logger, timeout time.Duration) *Sessions {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sessions{verifier: v, gw: gw, hub: hub, mirror: mirror, log: log, timeout: timeout, now: time.Now}
}

// opContext detaches ctx from the connection lifetime so writes in flight
// finish after a disconnect, bounded by timeout.
func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (s *Sessions) Authenticate(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrAuth)
	}
	userID, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	u, err := s.gw.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user %s", ErrAuth, userID)
		}
		return nil, fmt.Errorf("%w: load user: %v", chat.ErrGateway, err)
	}
	return &Identity{UserID: userID, User: u}, nil
}

// Attach registers c. The user's first live connection marks them online and
// tells everyone else.
func (s *Sessions) Attach(ctx context.Context, c *Conn, u *chat.User) {
	if !s.hub.Register(c) {
		return
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	if err := s.gw.UpdatePresence(ctx, c.UserID, true, s.now()); err != nil {
		s.log.Warn("mark online failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
	if s.mirror != nil {
		if err := s.mirror.SetOnline(ctx, c.UserID); err != nil {
			s.log.Warn("presence mirror online failed", zap.String("user_id", c.UserID), zap.Error(err))
		}
	}
	s.hub.Broadcast(event.New(event.UserOnline, OnlineEvent{UserID: c.UserID, User: summarize(u)}),
		event.Filter{ExceptUser: c.UserID})
}

// Detach unregisters c and closes it. When the user has no live connection
// left they go offline with last_seen set to now.
func (s *Sessions) Detach(ctx context.Context, c *Conn) {
	last := s.hub.Unregister(c)
	c.Close()
	if !last || s.hub.IsOnline(c.UserID) {
		return
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	lastSeen := s.now()
	if err := s.gw.UpdatePresence(ctx, c.UserID, false, lastSeen); err != nil {
		s.log.Warn("mark offline failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
	if s.mirror != nil {
		if err := s.mirror.SetOffline(ctx, c.UserID, lastSeen); err != nil {
			s.log.Warn("presence mirror offline failed", zap.String("user_id", c.UserID), zap.Error(err))
		}
	}
	s.hub.Broadcast(event.New(event.UserOffline, OfflineEvent{UserID: c.UserID, LastSeen: lastSeen}),
		event.Filter{ExceptUser: c.UserID})
}

// UpdateStatus stores the user's custom status text and announces it.
func (s *Sessions) UpdateStatus(ctx context.Context, c *Conn, status string) error {
	status = strings.TrimSpace(status)
	if status == "" || utf8.RuneCountInString(status) > maxStatusRunes {
		return fmt.Errorf("%w: status must be 1-%d characters", chat.ErrInvalid, maxStatusRunes)
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()
	if err := s.gw.UpdateStatusText(ctx, c.UserID, status); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: update status: %v", chat.ErrGateway, err)
	}
	s.hub.Broadcast(event.New(event.UserStatusUpdated, StatusEvent{UserID: c.UserID, Status: status}), event.Filter{})
	return nil
}

func (s *Sessions) IsOnline(userID string) bool {
	return s.hub.IsOnline(userID)
}
