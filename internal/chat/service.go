package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

// Actor identifies who performs an operation. ConnID is empty for calls that
// do not originate from a live connection.
type Actor struct {
	UserID string
	ConnID string
}

type MembershipChange string

const (
	MembershipAdded   MembershipChange = "added"
	MembershipRemoved MembershipChange = "removed"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 100
	maxContentRunes  = 4096
	maxGroupNameLen  = 128
	maxDescriptionLn = 512
)

type Service struct {
	gw  Gateway
	pub event.Publisher
	log *zap.Logger
	now func() time.Time
}

func NewService(gw Gateway, pub event.Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = discard{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{gw: gw, pub: pub, log: log, now: time.Now}
}

type discard struct{}

func (discard) Publish(string, event.Event, event.Filter) int { return 0 }
func (discard) SendToUser(string, event.Event) int           { return 0 }

// activeChat loads a chat; deactivated chats read as absent.
func (s *Service) activeChat(ctx context.Context, chatID string) (*Chat, error) {
	c, err := s.gw.GetChat(ctx, chatID)
	if err != nil {
		return nil, gatewayErr("get chat", err)
	}
	if !c.IsActive {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) memberChat(ctx context.Context, chatID, userID string) (*Chat, error) {
	c, err := s.activeChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, forbiddenf("not a participant of chat %s", chatID)
	}
	return c, nil
}

func (s *Service) adminGroup(ctx context.Context, chatID, userID string) (*Chat, error) {
	c, err := s.memberChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if c.Kind != KindGroup {
		return nil, invalidf("operation only applies to group chats")
	}
	if !c.IsAdmin(userID) {
		return nil, forbiddenf("only admins can manage group %s", chatID)
	}
	return c, nil
}

// CreateIndividualChat returns the existing one-to-one chat with other, or
// creates it. created reports which happened.
func (s *Service) CreateIndividualChat(ctx context.Context, by Actor, otherID string) (c *Chat, created bool, err error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" || otherID == by.UserID {
		return nil, false, invalidf("participant must be another user")
	}
	if _, err := s.gw.GetUser(ctx, otherID); err != nil {
		return nil, false, gatewayErr("get user", err)
	}

	existing, err := s.gw.FindIndividualChat(ctx, by.UserID, otherID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, gatewayErr("find individual chat", err)
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	c = &Chat{
		ID:       id,
		Kind:     KindIndividual,
		IsActive: true,
		Participants: []Participant{
			{ChatID: id, UserID: by.UserID, Role: RoleMember, JoinedAt: now},
			{ChatID: id, UserID: otherID, Role: RoleMember, JoinedAt: now},
		},
	}
	if err := s.gw.CreateChat(ctx, c); err != nil {
		return nil, false, gatewayErr("create chat", err)
	}
	return c, true, nil
}

type GroupInput struct {
	Name           string
	Description    string
	Avatar         string
	ParticipantIDs []string
}

// CreateGroupChat creates a group with the creator as its first admin.
func (s *Service) CreateGroupChat(ctx context.Context, by Actor, in GroupInput) (*Chat, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxGroupNameLen {
		return nil, invalidf("group name must be 1-%d characters", maxGroupNameLen)
	}
	desc := strings.TrimSpace(in.Description)
	if len(desc) > maxDescriptionLn {
		return nil, invalidf("description too long")
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	now := s.now()
	parts := []Participant{{ChatID: id, UserID: by.UserID, Role: RoleAdmin, JoinedAt: now}}
	seen := map[string]struct{}{by.UserID: {}}
	for _, uid := range in.ParticipantIDs {
		uid = strings.TrimSpace(uid)
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if _, err := s.gw.GetUser(ctx, uid); err != nil {
			return nil, gatewayErr("get user", err)
		}
		parts = append(parts, Participant{ChatID: id, UserID: uid, Role: RoleMember, JoinedAt: now})
	}

	c := &Chat{
		ID:           id,
		Kind:         KindGroup,
		Name:         &name,
		Description:  optional(desc),
		Avatar:       optional(strings.TrimSpace(in.Avatar)),
		IsActive:     true,
		Participants: parts,
	}
	if err := s.gw.CreateChat(ctx, c); err != nil {
		return nil, gatewayErr("create chat", err)
	}
	return c, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Service) GetChat(ctx context.Context, by Actor, chatID string) (*Chat, error) {
	return s.memberChat(ctx, chatID, by.UserID)
}

func (s *Service) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	chats, err := s.gw.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, gatewayErr("list chats", err)
	}
	return chats, nil
}

// AddParticipant adds userID to a group. Only admins may do it.
func (s *Service) AddParticipant(ctx context.Context, by Actor, chatID, userID string) (*Chat, error) {
	if _, err := s.adminGroup(ctx, chatID, by.UserID); err != nil {
		return nil, err
	}
	if _, err := s.gw.GetUser(ctx, userID); err != nil {
		return nil, gatewayErr("get user", err)
	}
	p := &Participant{ChatID: chatID, UserID: userID, Role: RoleMember, JoinedAt: s.now()}
	if err := s.gw.AddParticipant(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, gatewayErr("add participant", err)
	}
	return s.reload(ctx, chatID)
}

// RemoveParticipant removes userID from a group. Only admins may do it.
func (s *Service) RemoveParticipant(ctx context.Context, by Actor, chatID, userID string) (*Chat, error) {
	if _, err := s.adminGroup(ctx, chatID, by.UserID); err != nil {
		return nil, err
	}
	if err := s.gw.RemoveParticipant(ctx, chatID, userID); err != nil {
		return nil, gatewayErr("remove participant", err)
	}
	return s.reload(ctx, chatID)
}

// LeaveChat removes the actor from a group they belong to.
func (s *Service) LeaveChat(ctx context.Context, by Actor, chatID string) (*Chat, error) {
	c, err := s.memberChat(ctx, chatID, by.UserID)
	if err != nil {
		return nil, err
	}
	if c.Kind != KindGroup {
		return nil, invalidf("only group chats can be left")
	}
	if err := s.gw.RemoveParticipant(ctx, chatID, by.UserID); err != nil {
		return nil, gatewayErr("remove participant", err)
	}
	return s.reload(ctx, chatID)
}

type GroupUpdate struct {
	Name        *string
	Description *string
	Avatar      *string
}

func (s *Service) UpdateGroup(ctx context.Context, by Actor, chatID string, in GroupUpdate) (*Chat, error) {
	if _, err := s.adminGroup(ctx, chatID, by.UserID); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > maxGroupNameLen {
			return nil, invalidf("group name must be 1-%d characters", maxGroupNameLen)
		}
		fields["name"] = name
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if len(desc) > maxDescriptionLn {
			return nil, invalidf("description too long")
		}
		fields["description"] = optional(desc)
	}
	if in.Avatar != nil {
		fields["avatar"] = optional(strings.TrimSpace(*in.Avatar))
	}
	if len(fields) == 0 {
		return nil, invalidf("nothing to update")
	}
	if err := s.gw.UpdateChat(ctx, chatID, fields); err != nil {
		return nil, gatewayErr("update chat", err)
	}
	return s.reload(ctx, chatID)
}

// DeactivateChat soft-deletes a chat. Groups require an admin; either side of
// an individual chat may do it.
func (s *Service) DeactivateChat(ctx context.Context, by Actor, chatID string) error {
	c, err := s.memberChat(ctx, chatID, by.UserID)
	if err != nil {
		return err
	}
	if c.Kind == KindGroup && !c.IsAdmin(by.UserID) {
		return forbiddenf("only admins can deactivate group %s", chatID)
	}
	if err := s.gw.UpdateChat(ctx, chatID, map[string]any{"is_active": false}); err != nil {
		return gatewayErr("deactivate chat", err)
	}
	return nil
}

func (s *Service) reload(ctx context.Context, chatID string) (*Chat, error) {
	c, err := s.gw.GetChat(ctx, chatID)
	if err != nil {
		return nil, gatewayErr("get chat", err)
	}
	return c, nil
}

// ListMessages returns a page of the chat in chronological order. Messages the
// viewer deleted for themselves are never included.
func (s *Service) ListMessages(ctx context.Context, by Actor, chatID string, limit int, beforeID string) ([]MessageView, error) {
	if _, err := s.memberChat(ctx, chatID, by.UserID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	desc, err := s.gw.ListMessages(ctx, chatID, by.UserID, limit, beforeID)
	if err != nil {
		return nil, gatewayErr("list messages", err)
	}
	// reverse to ASC (oldest -> newest)
	out := make([]MessageView, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i].View())
	}
	return out, nil
}

// StarredMessages lists starred messages across the user's chats.
func (s *Service) StarredMessages(ctx context.Context, userID string, limit int) ([]MessageView, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	msgs, err := s.gw.ListStarred(ctx, userID, limit)
	if err != nil {
		return nil, gatewayErr("list starred", err)
	}
	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].View())
	}
	return out, nil
}

// RequestPurge records a purge job for a message the actor sent. created is
// false when a job already existed.
func (s *Service) RequestPurge(ctx context.Context, by Actor, messageID string) (*PurgeJob, bool, error) {
	m, err := s.gw.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, gatewayErr("get message", err)
	}
	if m.SenderID != by.UserID {
		return nil, false, forbiddenf("only the sender can purge message %s", messageID)
	}
	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	job, created, err := s.gw.CreatePurgeJobOrGetExisting(ctx, &PurgeJob{
		ID:          jobID,
		MessageID:   messageID,
		ChatID:      m.ChatID,
		RequestedBy: by.UserID,
		Status:      JobQueued,
	})
	if err != nil {
		return nil, false, gatewayErr("create purge job", err)
	}
	return job, created, nil
}

// GetPurgeJob hides jobs requested by someone else.
func (s *Service) GetPurgeJob(ctx context.Context, by Actor, jobID string) (*PurgeJob, error) {
	j, err := s.gw.GetPurgeJob(ctx, jobID)
	if err != nil {
		return nil, gatewayErr("get purge job", err)
	}
	if j.RequestedBy != by.UserID {
		return nil, ErrNotFound
	}
	return j, nil
}

// PurgeMessage physically deletes a message. Called by the purge worker only;
// nothing is published.
func (s *Service) PurgeMessage(ctx context.Context, messageID string) error {
	if err := s.gw.PurgeMessage(ctx, messageID); err != nil {
		return gatewayErr("purge message", err)
	}
	return nil
}
