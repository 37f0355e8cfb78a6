package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

type frame struct {
	Type      event.Type      `json:"type"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

// next waits for the next queued frame on c.
func next(t *testing.T, c *Conn) frame {
	t.Helper()
	select {
	case b := <-c.Outbound():
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame queued for conn %s (%s)", c.ID, c.UserID)
		return frame{}
	}
}

// drain empties c's queue and returns what was there.
func drain(c *Conn) []frame {
	var out []frame
	for {
		select {
		case b := <-c.Outbound():
			var f frame
			_ = json.Unmarshal(b, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func types(fs []frame) []event.Type {
	out := make([]event.Type, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Type)
	}
	return out
}

type stubVerifier map[string]string

func (v stubVerifier) Verify(_ context.Context, token string) (string, error) {
	if uid, ok := v[token]; ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

type mirrorCall struct {
	UserID string
	Online bool
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
}

func (m *fakeMirror) SetOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{UserID: userID, Online: true})
	return nil
}

func (m *fakeMirror) SetOffline(_ context.Context, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{UserID: userID, Online: false})
	return nil
}

func (m *fakeMirror) snapshot() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mirrorCall(nil), m.calls...)
}

type env struct {
	repo       *chat.Repo
	hub        *Hub
	svc        *chat.Service
	sessions   *Sessions
	membership *Membership
	relay      *Relay
	dispatch   *Dispatcher
	mirror     *fakeMirror
}

func newEnv(t *testing.T, users ...string) *env {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(chat.Models()...))

	repo := chat.NewRepo(db)
	tokens := stubVerifier{}
	for _, id := range users {
		require.NoError(t, repo.CreateUser(context.Background(), &chat.User{ID: id, Name: strings.ToUpper(id[:1]) + id[1:], StatusText: "Disponível"}))
		tokens["token-"+id] = id
	}

	log := zap.NewNop()
	hub := NewHub(log, NewMetrics(nil))
	mirror := &fakeMirror{}
	e := &env{
		repo:       repo,
		hub:        hub,
		svc:        chat.NewService(repo, hub, log),
		sessions:   NewSessions(tokens, repo, hub, mirror, log, time.Second),
		membership: NewMembership(repo, hub, log, time.Second),
		relay:      NewRelay(hub),
		mirror:     mirror,
	}
	e.dispatch = NewDispatcher(e.svc, e.sessions, e.relay, hub, nil, log, time.Second)
	return e
}

// connect attaches a fresh connection for userID and syncs its rooms, the
// same steps the websocket server performs after the upgrade.
func (e *env) connect(t *testing.T, userID string) *Conn {
	t.Helper()
	id, err := e.sessions.Authenticate(context.Background(), "token-"+userID)
	require.NoError(t, err)
	c := NewConn(context.Background(), userID, 16)
	c.Name = id.User.Name
	e.sessions.Attach(context.Background(), c, id.User)
	_, err = e.membership.Sync(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func (e *env) group(t *testing.T, admin string, members ...string) *chat.Chat {
	t.Helper()
	c, err := e.svc.CreateGroupChat(context.Background(), chat.Actor{UserID: admin}, chat.GroupInput{Name: "room", ParticipantIDs: members})
	require.NoError(t, err)
	return c
}

func (e *env) frameFrom(t *testing.T, c *Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "data": data, "requestId": "req-1"})
	require.NoError(t, err)
	require.True(t, e.dispatch.Handle(c, raw))
}
