package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

// signals maps an inbound call frame to the event relayed to the room.
var signals = map[string]event.Type{
	"call-user":     event.IncomingCall,
	"accept-call":   event.CallAccepted,
	"reject-call":   event.CallRejected,
	"end-call":      event.CallEnded,
	"ice-candidate": event.ICECandidate,
}

type TypingEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ChatID   string `json:"chatId"`
}

// Relay forwards ephemeral room traffic: call signaling and typing. Nothing
// it carries is persisted.
type Relay struct {
	hub *Hub
}

func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

func (r *Relay) member(c *Conn, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("%w: chatId is required", chat.ErrInvalid)
	}
	if !c.InRoom(chatID) {
		return fmt.Errorf("%w: not subscribed to chat %s", chat.ErrForbidden, chatID)
	}
	return nil
}

// Signal relays a call frame to the other members of chatID. The fields of
// data (offer, answer, candidate, callType) are passed through byte for byte;
// from, fromUser and chatId are set by the server.
func (r *Relay) Signal(c *Conn, kind, chatID string, data json.RawMessage) (int, error) {
	typ, ok := signals[kind]
	if !ok {
		return 0, fmt.Errorf("%w: unknown signal %q", chat.ErrInvalid, kind)
	}
	if err := r.member(c, chatID); err != nil {
		return 0, err
	}

	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return 0, fmt.Errorf("%w: signal payload must be an object", chat.ErrInvalid)
		}
	}
	fields["from"], _ = json.Marshal(c.UserID)
	fields["fromUser"], _ = json.Marshal(map[string]string{"id": c.UserID, "name": c.Name})
	fields["chatId"], _ = json.Marshal(chatID)

	return r.hub.Publish(chatID, event.New(typ, fields), event.Filter{ExceptUser: c.UserID}), nil
}

// Typing tells the room that the user started or stopped typing. Only the
// origin connection is skipped, so the user's other devices see it too.
func (r *Relay) Typing(c *Conn, chatID string, typing bool) (int, error) {
	if err := r.member(c, chatID); err != nil {
		return 0, err
	}
	typ := event.UserTyping
	if !typing {
		typ = event.UserStopTyping
	}
	ev := TypingEvent{UserID: c.UserID, UserName: c.Name, ChatID: chatID}
	return r.hub.Publish(chatID, event.New(typ, ev), event.Filter{ExceptConn: c.ID}), nil
}
