package chat

import "time"

type EditView struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// MessageView is the wire shape of a message: receipt rows folded into
// per-reader maps, reactions keyed by user.
type MessageView struct {
	ID            string               `json:"id"`
	ChatID        string               `json:"chat_id"`
	SenderID      string               `json:"sender_id"`
	Content       string               `json:"content"`
	Type          MessageType          `json:"message_type"`
	ReplyToID     *string              `json:"reply_to_id"`
	IsForwarded   bool                 `json:"is_forwarded"`
	ForwardedFrom *string              `json:"forwarded_from"`
	Status        Status               `json:"status"`
	IsStarred     bool                 `json:"is_starred"`
	IsDeleted     bool                 `json:"is_deleted"`
	DeletedAt     *time.Time           `json:"deleted_at"`
	IsEdited      bool                 `json:"is_edited"`
	EditHistory   []EditView           `json:"edit_history"`
	DeliveredTo   map[string]time.Time `json:"delivered_to"`
	ReadBy        map[string]time.Time `json:"read_by"`
	Reactions     map[string]string    `json:"reactions"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (m *Message) View() MessageView {
	v := MessageView{
		ID:            m.ID,
		ChatID:        m.ChatID,
		SenderID:      m.SenderID,
		Content:       m.Content,
		Type:          m.Type,
		ReplyToID:     m.ReplyToID,
		IsForwarded:   m.IsForwarded,
		ForwardedFrom: m.ForwardedFrom,
		Status:        m.Status,
		IsStarred:     m.IsStarred,
		IsDeleted:     m.IsDeleted,
		DeletedAt:     m.DeletedAt,
		IsEdited:      m.IsEdited,
		EditHistory:   make([]EditView, 0, len(m.Edits)),
		DeliveredTo:   make(map[string]time.Time),
		ReadBy:        make(map[string]time.Time),
		Reactions:     make(map[string]string, len(m.Reactions)),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, rc := range m.Receipts {
		switch rc.Kind {
		case ReceiptDelivered:
			v.DeliveredTo[rc.UserID] = rc.At
		case ReceiptRead:
			v.ReadBy[rc.UserID] = rc.At
		}
	}
	for _, r := range m.Reactions {
		v.Reactions[r.UserID] = r.Emoji
	}
	for _, e := range m.Edits {
		v.EditHistory = append(v.EditHistory, EditView{Content: e.Content, EditedAt: e.EditedAt})
	}
	return v
}
