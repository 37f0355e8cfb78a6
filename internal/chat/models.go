package chat

import "time"

type Kind string

const (
	KindIndividual Kind = "individual"
	KindGroup      Kind = "group"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeEmoji    MessageType = "emoji"
	TypeSticker  MessageType = "sticker"
	TypeGIF      MessageType = "gif"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeVideo, TypeDocument, TypeEmoji, TypeSticker, TypeGIF:
		return true
	}
	return false
}

// Status is the presentation aggregate of a message's receipts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// below lists the statuses a message may advance from to reach s.
func (s Status) below() []Status {
	all := []Status{StatusPending, StatusSent, StatusDelivered, StatusRead}
	out := make([]Status, 0, len(all))
	for _, st := range all {
		if st.rank() < s.rank() {
			out = append(out, st)
		}
	}
	return out
}

type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

type User struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Name       string    `gorm:"type:varchar(128);not null" json:"name"`
	Avatar     *string   `gorm:"type:varchar(512)" json:"avatar"`
	StatusText string    `gorm:"type:varchar(140);not null;default:'Disponível'" json:"status"`
	IsOnline   bool      `gorm:"not null;default:false" json:"is_online"`
	LastSeen   time.Time `json:"last_seen"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Chat struct {
	ID            string        `gorm:"primaryKey;size:26" json:"id"`
	Kind          Kind          `gorm:"type:varchar(16);index;not null" json:"type"`
	Name          *string       `gorm:"type:varchar(128)" json:"name"`
	Description   *string       `gorm:"type:varchar(512)" json:"description"`
	Avatar        *string       `gorm:"type:varchar(512)" json:"avatar"`
	LastMessageID *string       `gorm:"size:26" json:"last_message_id"`
	LastMessageAt *time.Time    `json:"last_message_at"`
	IsActive      bool          `gorm:"index;not null;default:true" json:"is_active"`
	Participants  []Participant `gorm:"foreignKey:ChatID" json:"participants"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

// Participant returns the membership row for userID, if any.
func (c *Chat) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c *Chat) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

func (c *Chat) IsAdmin(userID string) bool {
	p, ok := c.Participant(userID)
	return ok && p.Role == RoleAdmin
}

func (c *Chat) ParticipantIDs() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.UserID)
	}
	return out
}

type Participant struct {
	ID       uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID   string    `gorm:"size:26;not null;index:uniq_chat_participant,unique,priority:1" json:"-"`
	UserID   string    `gorm:"size:64;not null;index:uniq_chat_participant,unique,priority:2;index" json:"user_id"`
	Role     Role      `gorm:"type:varchar(16);not null" json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func (Participant) TableName() string { return "chat_participants" }

type Message struct {
	ID            string      `gorm:"primaryKey;size:26"`
	ChatID        string      `gorm:"size:26;not null;index"`
	SenderID      string      `gorm:"size:64;not null;index"`
	Content       string      `gorm:"type:text;not null"`
	Type          MessageType `gorm:"type:varchar(16);not null"`
	ReplyToID     *string     `gorm:"size:26"`
	IsForwarded   bool        `gorm:"not null;default:false"`
	ForwardedFrom *string     `gorm:"size:26"`
	Status        Status      `gorm:"type:varchar(16);not null"`
	IsStarred     bool        `gorm:"index;not null;default:false"`
	IsDeleted     bool        `gorm:"not null;default:false"`
	DeletedAt     *time.Time
	IsEdited      bool `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Receipts  []Receipt  `gorm:"foreignKey:MessageID"`
	Reactions []Reaction `gorm:"foreignKey:MessageID"`
	Edits     []Edit     `gorm:"foreignKey:MessageID"`
	Hidden    []Hidden   `gorm:"foreignKey:MessageID"`
}

func (Message) TableName() string { return "messages" }

// Receipt is one entry of a message's delivered-set or read-set.
type Receipt struct {
	MessageID string      `gorm:"primaryKey;size:26"`
	UserID    string      `gorm:"primaryKey;size:64"`
	Kind      ReceiptKind `gorm:"primaryKey;type:varchar(16)"`
	At        time.Time
}

func (Receipt) TableName() string { return "message_receipts" }

// Reaction is keyed by (message, user): one reaction per user.
type Reaction struct {
	MessageID string `gorm:"primaryKey;size:26"`
	UserID    string `gorm:"primaryKey;size:64"`
	Emoji     string `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time
}

func (Reaction) TableName() string { return "message_reactions" }

// Edit stores the content a message had before an edit.
type Edit struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:26;not null;index"`
	Content   string `gorm:"type:text;not null"`
	EditedAt  time.Time
}

func (Edit) TableName() string { return "message_edits" }

// Hidden marks a message as deleted for one user only.
type Hidden struct {
	MessageID string `gorm:"primaryKey;size:26"`
	UserID    string `gorm:"primaryKey;size:64"`
	At        time.Time
}

func (Hidden) TableName() string { return "message_hidden" }

// Models lists every table owned by the gateway, for AutoMigrate.
func Models() []any {
	return []any{
		&User{}, &Chat{}, &Participant{},
		&Message{}, &Receipt{}, &Reaction{}, &Edit{}, &Hidden{},
		&PurgeJob{},
	}
}
