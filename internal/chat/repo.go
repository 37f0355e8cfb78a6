package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo is the GORM-backed Gateway.
type Repo struct {
	db *gorm.DB
}

var _ Gateway = (*Repo)(nil)

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func participantsByJoin(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at ASC, id ASC")
}

const notHiddenFor = "NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = messages.id AND h.user_id = ?)"

// Users

func (r *Repo) CreateUser(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *Repo) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *Repo) UpdatePresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_online": online,
			"last_seen": lastSeen,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetPresence marks every user offline. Run at startup, before any
// connection is accepted: rows left online by a crashed process are stale.
func (r *Repo) ResetPresence(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("is_online = ?", true).
		Update("is_online", false)
	return res.RowsAffected, res.Error
}

func (r *Repo) UpdateStatusText(ctx context.Context, userID, status string) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("status_text", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Chats

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Preload("Participants", participantsByJoin).
		First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// FindIndividualChat looks up the active one-to-one chat between two users.
// There is no unique constraint behind it; concurrent creators may race.
func (r *Repo) FindIndividualChat(ctx context.Context, userA, userB string) (*Chat, error) {
	var c Chat
	err := r.db.WithContext(ctx).
		Preload("Participants", participantsByJoin).
		Where("kind = ? AND is_active = ?", KindIndividual, true).
		Where("id IN (SELECT chat_id FROM chat_participants WHERE user_id = ?)", userA).
		Where("id IN (SELECT chat_id FROM chat_participants WHERE user_id = ?)", userB).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repo) ListChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Preload("Participants", participantsByJoin).
		Where("is_active = ?", true).
		Where("id IN (SELECT chat_id FROM chat_participants WHERE user_id = ?)", userID).
		Order("updated_at DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *Repo) ListChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&Participant{}).
		Joins("JOIN chats ON chats.id = chat_participants.chat_id").
		Where("chat_participants.user_id = ? AND chats.is_active = ?", userID, true).
		Pluck("chat_participants.chat_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repo) AddParticipant(ctx context.Context, p *Participant) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return r.touchChat(ctx, p.ChatID)
}

func (r *Repo) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	res := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return r.touchChat(ctx, chatID)
}

func (r *Repo) touchChat(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("updated_at", time.Now()).Error
}

// UpdateChat always bumps updated_at so MySQL reports the row as affected even
// when the other values are unchanged.
func (r *Repo) UpdateChat(ctx context.Context, chatID string, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	res := r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	return r.UpdateChat(ctx, chatID, map[string]any{
		"last_message_id": messageID,
		"last_message_at": at,
	})
}

// Messages

func (r *Repo) CreateMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

func (r *Repo) withSatellites(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Receipts", func(db *gorm.DB) *gorm.DB { return db.Order("at ASC") }).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Edits", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Hidden")
}

func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.withSatellites(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListMessages returns messages in DESC id order (newest -> oldest), skipping
// those the viewer deleted for themselves.
func (r *Repo) ListMessages(ctx context.Context, chatID, viewerID string, limit int, beforeID string) ([]Message, error) {
	q := r.withSatellites(ctx).
		Where("chat_id = ?", chatID).
		Where(notHiddenFor, viewerID).
		Order("id DESC").
		Limit(limit)
	if beforeID != "" {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListStarred returns starred messages from the user's chats, newest first.
func (r *Repo) ListStarred(ctx context.Context, userID string, limit int) ([]Message, error) {
	var msgs []Message
	if err := r.withSatellites(ctx).
		Where("is_starred = ? AND is_deleted = ?", true, false).
		Where("chat_id IN (SELECT chat_id FROM chat_participants WHERE user_id = ?)", userID).
		Where(notHiddenFor, userID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// AddReceipt inserts into the delivered-set or read-set. Reports false when the
// reader was already present.
func (r *Repo) AddReceipt(ctx context.Context, rc *Receipt) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AdvanceStatus moves status forward only; it never regresses.
func (r *Repo) AdvanceStatus(ctx context.Context, messageID string, to Status) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND status IN ?", messageID, to.below()).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) UpsertReaction(ctx context.Context, rc *Reaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"emoji", "created_at"}),
		}).
		Create(rc).Error
}

func (r *Repo) DeleteReaction(ctx context.Context, messageID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&Reaction{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ApplyEdit appends prior to the history and swaps in next. The content guard
// turns a concurrent edit into ErrConflict instead of a lost history entry.
func (r *Repo) ApplyEdit(ctx context.Context, messageID, prior, next string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Message{}).
			Where("id = ? AND content = ?", messageID, prior).
			Updates(map[string]any{
				"content":    next,
				"is_edited":  true,
				"updated_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return tx.Create(&Edit{MessageID: messageID, Content: prior, EditedAt: at}).Error
	})
}

func (r *Repo) MarkDeletedForEveryone(ctx context.Context, messageID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"is_deleted": true,
			"deleted_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) HideForUser(ctx context.Context, h *Hidden) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(h)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) SetStarred(ctx context.Context, messageID string, starred bool) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"is_starred": starred,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeMessage physically removes a message and its satellites.
func (r *Repo) PurgeMessage(ctx context.Context, messageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&Receipt{}, &Reaction{}, &Edit{}, &Hidden{}} {
			if err := tx.Where("message_id = ?", messageID).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&Chat{}).
			Where("last_message_id = ?", messageID).
			Updates(map[string]any{"last_message_id": nil}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", messageID).Delete(&Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Purge job CRUD

func (r *Repo) GetPurgeJob(ctx context.Context, id string) (*PurgeJob, error) {
	var j PurgeJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (r *Repo) GetPurgeJobByMessage(ctx context.Context, messageID string) (*PurgeJob, error) {
	var j PurgeJob
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&j).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

// CreatePurgeJobOrGetExisting tries to create a job, but if one already exists
// for the message it returns the existing job instead.
func (r *Repo) CreatePurgeJobOrGetExisting(ctx context.Context, job *PurgeJob) (*PurgeJob, bool, error) {
	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetPurgeJobByMessage(ctx, job.MessageID)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, ErrNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&PurgeJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&PurgeJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&PurgeJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
