package chat

import (
	"context"
	"time"
)

// Gateway is the persistence capability the real-time core depends on. Each
// call is an independent request with no transaction spanning documents.
// Implementations return ErrNotFound for missing records and ErrConflict for
// duplicate inserts; any other error is a store failure.
type Gateway interface {
	GetUser(ctx context.Context, id string) (*User, error)
	UpdatePresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
	UpdateStatusText(ctx context.Context, userID, status string) error

	CreateChat(ctx context.Context, c *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	FindIndividualChat(ctx context.Context, userA, userB string) (*Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]Chat, error)
	ListChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	AddParticipant(ctx context.Context, p *Participant) error
	RemoveParticipant(ctx context.Context, chatID, userID string) error
	UpdateChat(ctx context.Context, chatID string, fields map[string]any) error
	SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error

	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, chatID, viewerID string, limit int, beforeID string) ([]Message, error)
	ListStarred(ctx context.Context, userID string, limit int) ([]Message, error)
	AddReceipt(ctx context.Context, r *Receipt) (bool, error)
	AdvanceStatus(ctx context.Context, messageID string, to Status) (bool, error)
	UpsertReaction(ctx context.Context, r *Reaction) error
	DeleteReaction(ctx context.Context, messageID, userID string) (bool, error)
	ApplyEdit(ctx context.Context, messageID, prior, next string, at time.Time) error
	MarkDeletedForEveryone(ctx context.Context, messageID string, at time.Time) error
	HideForUser(ctx context.Context, h *Hidden) (bool, error)
	SetStarred(ctx context.Context, messageID string, starred bool) error
	PurgeMessage(ctx context.Context, messageID string) error

	CreatePurgeJobOrGetExisting(ctx context.Context, job *PurgeJob) (*PurgeJob, bool, error)
	GetPurgeJob(ctx context.Context, id string) (*PurgeJob, error)
}
