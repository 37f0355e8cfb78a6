// Package event defines the frames pushed to live connections and the
// publisher contract the message lifecycle uses to fan them out.
package event

type Type string

const (
	SessionReady Type = "session-ready"
	Error        Type = "error"

	NewMessage                Type = "new-message"
	MessageDelivered          Type = "message-delivered"
	MessageRead               Type = "message-read"
	ReactionAdded             Type = "reaction-added"
	ReactionRemoved           Type = "reaction-removed"
	MessageEdited             Type = "message-edited"
	MessageDeletedForEveryone Type = "message-deleted-for-everyone"
	MessageDeletedForMe       Type = "message-deleted-for-me"
	MessageStarred            Type = "message-starred"

	UserTyping     Type = "user-typing"
	UserStopTyping Type = "user-stop-typing"

	IncomingCall Type = "incoming-call"
	CallAccepted Type = "call-accepted"
	CallRejected Type = "call-rejected"
	CallEnded    Type = "call-ended"
	ICECandidate Type = "ice-candidate"

	UserOnline        Type = "user-online"
	UserOffline       Type = "user-offline"
	UserStatusUpdated Type = "user-status-updated"

	MembershipUpdated Type = "membership-updated"
	ChatUpdated       Type = "chat-updated"
)

// Event is one outbound frame.
type Event struct {
	Type      Type   `json:"type"`
	Data      any    `json:"data"`
	RequestID string `json:"requestId,omitempty"`
}

func New(t Type, data any) Event {
	return Event{Type: t, Data: data}
}

// Filter narrows a fan-out. Zero value delivers to every subscriber.
type Filter struct {
	ExceptConn string
	ExceptUser string
}

// Publisher delivers events to live connections. Delivery is best effort,
// at most once, and never replayed. Implementations must not block on slow
// recipients. The returned count is the number of connections the event was
// queued for.
type Publisher interface {
	Publish(roomID string, ev Event, f Filter) int
	SendToUser(userID string, ev Event) int
}
