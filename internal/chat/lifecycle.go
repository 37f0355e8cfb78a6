package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

const maxEmojiBytes = 32

type SendInput struct {
	ChatID        string
	Content       string
	Type          MessageType
	ReplyToID     string
	IsForwarded   bool
	ForwardedFrom string
}

// ReceiptEvent is the payload of message-delivered and message-read.
type ReceiptEvent struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	At        time.Time `json:"at"`
}

type ReactionEvent struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji,omitempty"`
}

type EditEvent struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type DeleteEvent struct {
	MessageID string     `json:"messageId"`
	ChatID    string     `json:"chatId"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type StarEvent struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
	Starred   bool   `json:"starred"`
}

// messageFor loads a message and checks the actor may act on it.
func (s *Service) messageFor(ctx context.Context, by Actor, messageID string) (*Message, error) {
	m, err := s.gw.GetMessage(ctx, messageID)
	if err != nil {
		return nil, gatewayErr("get message", err)
	}
	if _, err := s.memberChat(ctx, m.ChatID, by.UserID); err != nil {
		return nil, err
	}
	return m, nil
}

func validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalidf("content is empty")
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return "", invalidf("content exceeds %d characters", maxContentRunes)
	}
	return content, nil
}

// SendMessage persists a message and publishes new-message to every
// subscriber of the chat, the sender's own connections included.
func (s *Service) SendMessage(ctx context.Context, by Actor, in SendInput) (*MessageView, error) {
	content, err := validContent(in.Content)
	if err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = TypeText
	}
	if !in.Type.Valid() {
		return nil, invalidf("unknown message type %q", in.Type)
	}
	if _, err := s.memberChat(ctx, in.ChatID, by.UserID); err != nil {
		return nil, err
	}
	if in.ReplyToID != "" {
		target, err := s.gw.GetMessage(ctx, in.ReplyToID)
		if err != nil {
			return nil, gatewayErr("get reply target", err)
		}
		if target.ChatID != in.ChatID {
			return nil, ErrNotFound
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:            id,
		ChatID:        in.ChatID,
		SenderID:      by.UserID,
		Content:       content,
		Type:          in.Type,
		ReplyToID:     optional(in.ReplyToID),
		IsForwarded:   in.IsForwarded,
		ForwardedFrom: optional(in.ForwardedFrom),
		Status:        StatusSent,
		CreatedAt:     s.now(),
	}
	if err := s.gw.CreateMessage(ctx, m); err != nil {
		return nil, gatewayErr("create message", err)
	}
	if err := s.gw.SetLastMessage(ctx, m.ChatID, m.ID, m.CreatedAt); err != nil {
		s.log.Warn("update last message failed",
			zap.String("chat_id", m.ChatID),
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}

	v := m.View()
	s.pub.Publish(m.ChatID, event.New(event.NewMessage, v), event.Filter{})
	return &v, nil
}

// MarkDelivered records that the actor's device received the message.
func (s *Service) MarkDelivered(ctx context.Context, by Actor, messageID string) (*ReceiptEvent, error) {
	return s.receipt(ctx, by, messageID, ReceiptDelivered)
}

// MarkRead records that the actor read the message. Repeating it is a no-op.
func (s *Service) MarkRead(ctx context.Context, by Actor, messageID string) (*ReceiptEvent, error) {
	return s.receipt(ctx, by, messageID, ReceiptRead)
}

// receipt inserts into the delivered or read set and advances the aggregate
// status. An event goes out only when the set actually grew. The sender's own
// receipts are ignored.
func (s *Service) receipt(ctx context.Context, by Actor, messageID string, kind ReceiptKind) (*ReceiptEvent, error) {
	m, err := s.messageFor(ctx, by, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID == by.UserID {
		return nil, nil
	}

	at := s.now()
	added, err := s.gw.AddReceipt(ctx, &Receipt{MessageID: m.ID, UserID: by.UserID, Kind: kind, At: at})
	if err != nil {
		return nil, gatewayErr("add receipt", err)
	}
	if !added {
		return nil, nil
	}

	target, typ := StatusDelivered, event.MessageDelivered
	if kind == ReceiptRead {
		target, typ = StatusRead, event.MessageRead
	}
	status := m.Status
	advanced, err := s.gw.AdvanceStatus(ctx, m.ID, target)
	if err != nil {
		return nil, gatewayErr("advance status", err)
	}
	if advanced {
		status = target
	}

	ev := &ReceiptEvent{MessageID: m.ID, ChatID: m.ChatID, UserID: by.UserID, Status: status, At: at}
	s.pub.Publish(m.ChatID, event.New(typ, ev), event.Filter{ExceptConn: by.ConnID})
	return ev, nil
}

// React sets the actor's single reaction, replacing any previous one.
func (s *Service) React(ctx context.Context, by Actor, messageID, emoji string) (*ReactionEvent, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiBytes {
		return nil, invalidf("emoji must be 1-%d bytes", maxEmojiBytes)
	}
	m, err := s.messageFor(ctx, by, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, invalidf("message %s was deleted", m.ID)
	}
	if err := s.gw.UpsertReaction(ctx, &Reaction{MessageID: m.ID, UserID: by.UserID, Emoji: emoji, CreatedAt: s.now()}); err != nil {
		return nil, gatewayErr("upsert reaction", err)
	}
	ev := &ReactionEvent{MessageID: m.ID, ChatID: m.ChatID, UserID: by.UserID, Emoji: emoji}
	s.pub.Publish(m.ChatID, event.New(event.ReactionAdded, ev), event.Filter{})
	return ev, nil
}

// Unreact removes the actor's reaction. Removing a missing reaction publishes
// nothing.
func (s *Service) Unreact(ctx context.Context, by Actor, messageID string) (*ReactionEvent, error) {
	m, err := s.messageFor(ctx, by, messageID)
	if err != nil {
		return nil, err
	}
	removed, err := s.gw.DeleteReaction(ctx, m.ID, by.UserID)
	if err != nil {
		return nil, gatewayErr("delete reaction", err)
	}
	if !removed {
		return nil, nil
	}
	ev := &ReactionEvent{MessageID: m.ID, ChatID: m.ChatID, UserID: by.UserID}
	s.pub.Publish(m.ChatID, event.New(event.ReactionRemoved, ev), event.Filter{})
	return ev, nil
}

// EditMessage replaces the content and keeps the prior text in the history.
func (s *Service) EditMessage(ctx context.Context, by Actor, messageID, content string) (*EditEvent, error) {
	content, err := validContent(content)
	if err != nil {
		return nil, err
	}
	m, err := s.messageFor(ctx, by, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != by.UserID {
		return nil, forbiddenf("only the sender can edit message %s", m.ID)
	}
	if m.IsDeleted {
		return nil, invalidf("message %s was deleted", m.ID)
	}
	if m.Content == content {
		return nil, invalidf("content unchanged")
	}

	at := s.now()
	if err := s.gw.ApplyEdit(ctx, m.ID, m.Content, content, at); err != nil {
		return nil, gatewayErr("apply edit", err)
	}
	ev := &EditEvent{MessageID: m.ID, ChatID: m.ChatID, Content: content, EditedAt: at}
	s.pub.Publish(m.ChatID, event.New(event.MessageEdited, ev), event.Filter{})
	return ev, nil
}

// DeleteMessage deletes for everyone (sender only, visible to the room) or
// hides the message for the actor alone.
func (s *Service) DeleteMessage(ctx context.Context, by Actor, messageID string, forEveryone bool) (*DeleteEvent, error) {
	m, err := s.messageFor(ctx, by, messageID)
	if err != nil {
		return nil, err
	}

	if forEveryone {
		if m.SenderID != by.UserID {
			return nil, forbiddenf("only the sender can delete message %s for everyone", m.ID)
		}
		if m.IsDeleted {
			return &DeleteEvent{MessageID: m.ID, ChatID: m.ChatID, DeletedAt: m.DeletedAt}, nil
		}
		at := s.now()
		if err := s.gw.MarkDeletedForEveryone(ctx, m.ID, at); err != nil {
			return nil, gatewayErr("delete for everyone", err)
		}
		ev := &DeleteEvent{MessageID: m.ID, ChatID: m.ChatID, DeletedAt: &at}
		s.pub.Publish(m.ChatID, event.New(event.MessageDeletedForEveryone, ev), event.Filter{})
		return ev, nil
	}

	added, err := s.gw.HideForUser(ctx, &Hidden{MessageID: m.ID, UserID: by.UserID, At: s.now()})
	if err != nil {
		return nil, gatewayErr("hide message", err)
	}
	ev := &DeleteEvent{MessageID: m.ID, ChatID: m.ChatID}
	if added {
		s.pub.SendToUser(by.UserID, event.New(event.MessageDeletedForMe, ev))
	}
	return ev, nil
}

// SetStarred sets the message's star flag. The flag is shared by every
// participant.
func (s *Service) SetStarred(ctx context.Context, by Actor, messageID string, starred bool) (*StarEvent, error) {
	m, err := s.messageFor(ctx, by, messageID)
	if err != nil {
		return nil, err
	}
	return s.star(ctx, by, m, starred)
}

// ToggleStar flips the star flag.
func (s *Service) ToggleStar(ctx context.Context, by Actor, messageID string) (*StarEvent, error) {
	m, err := s.messageFor(ctx, by, messageID)
	if err != nil {
		return nil, err
	}
	return s.star(ctx, by, m, !m.IsStarred)
}

func (s *Service) star(ctx context.Context, by Actor, m *Message, starred bool) (*StarEvent, error) {
	if err := s.gw.SetStarred(ctx, m.ID, starred); err != nil {
		return nil, gatewayErr("set starred", err)
	}
	ev := &StarEvent{MessageID: m.ID, ChatID: m.ChatID, UserID: by.UserID, Starred: starred}
	s.pub.Publish(m.ChatID, event.New(event.MessageStarred, ev), event.Filter{})
	return ev, nil
}
