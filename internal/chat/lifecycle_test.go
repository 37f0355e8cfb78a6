package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/event"
)

func TestSendMessage_PublishesToWholeRoom(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	c := f.group(t, "alice", "bob")

	v := f.send(t, "alice", c.ID, "  hello  ")
	if v.Content != "hello" || v.Status != StatusSent || v.Type != TypeText {
		t.Fatalf("unexpected view %+v", v)
	}

	evs := f.pub.ofType(event.NewMessage)
	if len(evs) != 1 {
		t.Fatalf("got %d new-message events, want 1", len(evs))
	}
	if evs[0].Room != c.ID || evs[0].Filter != (event.Filter{}) {
		t.Fatalf("new-message routed to %q with filter %+v", evs[0].Room, evs[0].Filter)
	}

	got, err := f.repo.GetChat(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.LastMessageID == nil || *got.LastMessageID != v.ID {
		t.Fatalf("last message pointer = %v, want %s", got.LastMessageID, v.ID)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	c := f.group(t, "alice", "bob")
	other := f.group(t, "alice", "bob")
	elsewhere := f.send(t, "alice", other.ID, "elsewhere")
	f.pub.reset()

	cases := []struct {
		name string
		in   SendInput
		want error
	}{
		{"empty", SendInput{ChatID: c.ID, Content: "   "}, ErrInvalid},
		{"too long", SendInput{ChatID: c.ID, Content: strings.Repeat("x", maxContentRunes+1)}, ErrInvalid},
		{"bad type", SendInput{ChatID: c.ID, Content: "x", Type: "hologram"}, ErrInvalid},
		{"missing chat", SendInput{ChatID: "nope", Content: "x"}, ErrNotFound},
		{"missing reply", SendInput{ChatID: c.ID, Content: "x", ReplyToID: "nope"}, ErrNotFound},
		{"reply in other chat", SendInput{ChatID: c.ID, Content: "x", ReplyToID: elsewhere.ID}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), as("alice"), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
	if n := len(f.pub.out); n != 0 {
		t.Fatalf("rejected sends published %d events", n)
	}
}

func TestNonParticipantIsForbidden(t *testing.T) {
	f := newFixture(t, "alice", "bob", "mallory")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "secret")
	f.pub.reset()

	ops := map[string]func() error{
		"send": func() error {
			_, err := f.svc.SendMessage(ctx, as("mallory"), SendInput{ChatID: c.ID, Content: "hi"})
			return err
		},
		"react": func() error {
			_, err := f.svc.React(ctx, as("mallory"), m.ID, "👍")
			return err
		},
		"read": func() error {
			_, err := f.svc.MarkRead(ctx, as("mallory"), m.ID)
			return err
		},
		"delivered": func() error {
			_, err := f.svc.MarkDelivered(ctx, as("mallory"), m.ID)
			return err
		},
		"edit by non-sender": func() error {
			_, err := f.svc.EditMessage(ctx, as("bob"), m.ID, "changed")
			return err
		},
		"delete for everyone by non-sender": func() error {
			_, err := f.svc.DeleteMessage(ctx, as("bob"), m.ID, true)
			return err
		},
		"star": func() error {
			_, err := f.svc.SetStarred(ctx, as("mallory"), m.ID, true)
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, ErrForbidden) {
				t.Fatalf("got %v, want ErrForbidden", err)
			}
		})
	}
	if n := len(f.pub.out); n != 0 {
		t.Fatalf("forbidden operations published %d events", n)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "read me")

	first, err := f.svc.MarkRead(ctx, as("bob"), m.ID)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if first == nil || first.Status != StatusRead {
		t.Fatalf("first read returned %+v", first)
	}
	second, err := f.svc.MarkRead(ctx, as("bob"), m.ID)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if second != nil {
		t.Fatalf("second read should be a no-op, got %+v", second)
	}

	evs := f.pub.ofType(event.MessageRead)
	if len(evs) != 1 {
		t.Fatalf("got %d message-read events, want 1", len(evs))
	}
	if evs[0].Filter.ExceptConn != "conn-bob" {
		t.Fatalf("message-read should skip the reader's connection, filter %+v", evs[0].Filter)
	}

	got, err := f.repo.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v := got.View()
	if len(v.ReadBy) != 1 {
		t.Fatalf("read_by has %d entries, want 1", len(v.ReadBy))
	}
	if v.Status != StatusRead {
		t.Fatalf("status = %s, want read", v.Status)
	}
}

func TestReceipts_SenderIgnoredAndNoRegression(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	c := f.group(t, "alice", "bob", "carol")
	m := f.send(t, "alice", c.ID, "status")

	if ev, err := f.svc.MarkRead(ctx, as("alice"), m.ID); err != nil || ev != nil {
		t.Fatalf("sender read: ev=%+v err=%v", ev, err)
	}
	got, _ := f.repo.GetMessage(ctx, m.ID)
	if got.Status != StatusSent {
		t.Fatalf("sender receipt changed status to %s", got.Status)
	}

	if _, err := f.svc.MarkRead(ctx, as("bob"), m.ID); err != nil {
		t.Fatalf("bob read: %v", err)
	}
	ev, err := f.svc.MarkDelivered(ctx, as("carol"), m.ID)
	if err != nil {
		t.Fatalf("carol delivered: %v", err)
	}
	if ev == nil || ev.Status != StatusRead {
		t.Fatalf("delivered after read should report read, got %+v", ev)
	}

	got, _ = f.repo.GetMessage(ctx, m.ID)
	v := got.View()
	if v.Status != StatusRead {
		t.Fatalf("status regressed to %s", v.Status)
	}
	if _, ok := v.DeliveredTo["carol"]; !ok {
		t.Fatalf("carol missing from delivered_to")
	}
}

func TestReact_ReplacesPreviousReaction(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "joke")

	for _, emoji := range []string{"👍", "😂"} {
		if _, err := f.svc.React(ctx, as("bob"), m.ID, emoji); err != nil {
			t.Fatalf("react %s: %v", emoji, err)
		}
	}

	got, err := f.repo.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v := got.View()
	if len(v.Reactions) != 1 || v.Reactions["bob"] != "😂" {
		t.Fatalf("reactions = %v, want only bob:😂", v.Reactions)
	}
	if n := len(f.pub.ofType(event.ReactionAdded)); n != 2 {
		t.Fatalf("got %d reaction-added events, want 2", n)
	}

	ev, err := f.svc.Unreact(ctx, as("bob"), m.ID)
	if err != nil || ev == nil {
		t.Fatalf("unreact: ev=%+v err=%v", ev, err)
	}
	if ev, err := f.svc.Unreact(ctx, as("bob"), m.ID); err != nil || ev != nil {
		t.Fatalf("second unreact: ev=%+v err=%v", ev, err)
	}
	if n := len(f.pub.ofType(event.ReactionRemoved)); n != 1 {
		t.Fatalf("got %d reaction-removed events, want 1", n)
	}
}

func TestEditMessage_KeepsHistory(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "draft")

	if _, err := f.svc.EditMessage(ctx, as("alice"), m.ID, "final"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := f.svc.EditMessage(ctx, as("alice"), m.ID, "final"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("unchanged edit: got %v, want ErrInvalid", err)
	}

	got, _ := f.repo.GetMessage(ctx, m.ID)
	v := got.View()
	if v.Content != "final" || !v.IsEdited {
		t.Fatalf("after edit: %+v", v)
	}
	if len(v.EditHistory) != 1 || v.EditHistory[0].Content != "draft" {
		t.Fatalf("edit history = %+v", v.EditHistory)
	}
	if n := len(f.pub.ofType(event.MessageEdited)); n != 1 {
		t.Fatalf("got %d message-edited events, want 1", n)
	}
}

func TestDeleteForEveryone_VisibleToAll(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "regret")

	if _, err := f.svc.DeleteMessage(ctx, as("alice"), m.ID, true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	evs := f.pub.ofType(event.MessageDeletedForEveryone)
	if len(evs) != 1 || evs[0].Room != c.ID {
		t.Fatalf("delete-for-everyone events = %+v", evs)
	}

	for _, viewer := range []string{"alice", "bob"} {
		page, err := f.svc.ListMessages(ctx, as(viewer), c.ID, 10, "")
		if err != nil {
			t.Fatalf("list for %s: %v", viewer, err)
		}
		if len(page) != 1 || !page[0].IsDeleted || page[0].DeletedAt == nil {
			t.Fatalf("%s sees %+v", viewer, page)
		}
	}

	if _, err := f.svc.EditMessage(ctx, as("alice"), m.ID, "revived"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("edit deleted: got %v, want ErrInvalid", err)
	}
	if _, err := f.svc.DeleteMessage(ctx, as("alice"), m.ID, true); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if n := len(f.pub.ofType(event.MessageDeletedForEveryone)); n != 1 {
		t.Fatalf("repeat delete published again")
	}
}

func TestDeleteForMe_OnlyDeletingUser(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "private")
	f.pub.reset()

	if _, err := f.svc.DeleteMessage(ctx, as("bob"), m.ID, false); err != nil {
		t.Fatalf("delete for me: %v", err)
	}
	if len(f.pub.out) != 1 {
		t.Fatalf("got %d events, want 1", len(f.pub.out))
	}
	ev := f.pub.out[0]
	if ev.Event.Type != event.MessageDeletedForMe || ev.User != "bob" || ev.Room != "" {
		t.Fatalf("delete-for-me routed as %+v", ev)
	}

	bobView, _ := f.svc.ListMessages(ctx, as("bob"), c.ID, 10, "")
	if len(bobView) != 0 {
		t.Fatalf("bob still sees %d messages", len(bobView))
	}
	aliceView, _ := f.svc.ListMessages(ctx, as("alice"), c.ID, 10, "")
	if len(aliceView) != 1 || aliceView[0].IsDeleted {
		t.Fatalf("alice view = %+v", aliceView)
	}

	if _, err := f.svc.DeleteMessage(ctx, as("bob"), m.ID, false); err != nil {
		t.Fatalf("repeat delete for me: %v", err)
	}
	if len(f.pub.out) != 1 {
		t.Fatalf("repeat delete-for-me published again")
	}
}

func TestStar_GlobalFlagAndStarredView(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "keep")
	hidden := f.send(t, "alice", c.ID, "hide me")

	if _, err := f.svc.SetStarred(ctx, as("bob"), m.ID, true); err != nil {
		t.Fatalf("star: %v", err)
	}
	if _, err := f.svc.ToggleStar(ctx, as("bob"), hidden.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := f.svc.DeleteMessage(ctx, as("bob"), hidden.ID, false); err != nil {
		t.Fatalf("hide: %v", err)
	}

	aliceStars, err := f.svc.StarredMessages(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("alice starred: %v", err)
	}
	if len(aliceStars) != 2 {
		t.Fatalf("alice sees %d starred, want 2", len(aliceStars))
	}
	bobStars, _ := f.svc.StarredMessages(ctx, "bob", 0)
	if len(bobStars) != 1 || bobStars[0].ID != m.ID {
		t.Fatalf("bob starred = %+v", bobStars)
	}
	carolStars, _ := f.svc.StarredMessages(ctx, "carol", 0)
	if len(carolStars) != 0 {
		t.Fatalf("outsider sees %d starred", len(carolStars))
	}
}

func TestGatewayFailure_PublishesNothing(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	c := f.group(t, "alice", "bob")
	m := f.send(t, "alice", c.ID, "fine")

	pub := &recordingPublisher{}
	svc := NewService(brokenGateway{Gateway: f.repo}, pub, zap.NewNop())

	if _, err := svc.SendMessage(ctx, as("alice"), SendInput{ChatID: c.ID, Content: "lost"}); !errors.Is(err, ErrGateway) {
		t.Fatalf("send: got %v, want ErrGateway", err)
	}
	if !errors.Is(func() error { _, err := svc.MarkRead(ctx, as("bob"), m.ID); return err }(), ErrGateway) {
		t.Fatalf("read should fail with ErrGateway")
	}
	if !errors.Is(func() error { _, err := svc.React(ctx, as("bob"), m.ID, "👍"); return err }(), ErrGateway) {
		t.Fatalf("react should fail with ErrGateway")
	}
	if !errors.Is(func() error { _, err := svc.DeleteMessage(ctx, as("alice"), m.ID, true); return err }(), ErrGateway) {
		t.Fatalf("delete should fail with ErrGateway")
	}
	if n := len(pub.out); n != 0 {
		t.Fatalf("failed writes published %d events", n)
	}
}
