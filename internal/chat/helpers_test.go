package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/gopherchat/internal/event"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type published struct {
	Room   string
	User   string
	Event  event.Event
	Filter event.Filter
}

type recordingPublisher struct {
	mu  sync.Mutex
	out []published
}

func (p *recordingPublisher) Publish(roomID string, ev event.Event, f event.Filter) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, published{Room: roomID, Event: ev, Filter: f})
	return 1
}

func (p *recordingPublisher) SendToUser(userID string, ev event.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, published{User: userID, Event: ev})
	return 1
}

func (p *recordingPublisher) ofType(t event.Type) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.out {
		if e.Event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.out = nil
	p.mu.Unlock()
}

var errStoreDown = errors.New("store down")

// brokenGateway fails every write that follows a successful authorization.
type brokenGateway struct {
	Gateway
}

func (brokenGateway) CreateMessage(context.Context, *Message) error { return errStoreDown }
func (brokenGateway) AddReceipt(context.Context, *Receipt) (bool, error) {
	return false, errStoreDown
}
func (brokenGateway) UpsertReaction(context.Context, *Reaction) error { return errStoreDown }
func (brokenGateway) MarkDeletedForEveryone(context.Context, string, time.Time) error {
	return errStoreDown
}

type fixture struct {
	repo *Repo
	pub  *recordingPublisher
	svc  *Service
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	for _, id := range users {
		if err := repo.CreateUser(context.Background(), &User{ID: id, Name: id, StatusText: "Disponível"}); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	pub := &recordingPublisher{}
	return &fixture{repo: repo, pub: pub, svc: NewService(repo, pub, zap.NewNop())}
}

func as(userID string) Actor {
	return Actor{UserID: userID, ConnID: "conn-" + userID}
}

func (f *fixture) group(t *testing.T, admin string, members ...string) *Chat {
	t.Helper()
	c, err := f.svc.CreateGroupChat(context.Background(), as(admin), GroupInput{Name: "team", ParticipantIDs: members})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return c
}

func (f *fixture) send(t *testing.T, from, chatID, content string) *MessageView {
	t.Helper()
	v, err := f.svc.SendMessage(context.Background(), as(from), SendInput{ChatID: chatID, Content: content})
	if err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
	return v
}
