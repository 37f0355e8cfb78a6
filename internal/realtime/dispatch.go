package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

var errRateLimited = errors.New("rate limit exceeded")

const maxBatchRead = 200

type inboundFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

type ErrorEvent struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

type handlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) error

// Dispatcher decodes inbound frames and routes them to the lifecycle engine,
// the session manager or the relay.
type Dispatcher struct {
	svc      *chat.Service
	sessions *Sessions
	relay    *Relay
	hub      *Hub
	metrics  *Metrics
	log      *zap.Logger
	timeout  time.Duration
	handlers map[string]handlerFunc
}

func NewDispatcher(svc *chat.Service, sessions *Sessions, relay *Relay, hub *Hub, m *Metrics, log *zap.Logger, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = hub.metrics
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{svc: svc, sessions: sessions, relay: relay, hub: hub, metrics: m, log: log, timeout: timeout}
	d.handlers = map[string]handlerFunc{
		"send-message":    d.sendMessage,
		"typing":          d.typing(true),
		"stop-typing":     d.typing(false),
		"mark-as-read":    d.markRead,
		"mark-delivered":  d.markDelivered,
		"add-reaction":    d.addReaction,
		"remove-reaction": d.removeReaction,
		"edit-message":    d.editMessage,
		"delete-message":  d.deleteMessage,
		"star-message":    d.starMessage,
		"update-status":   d.updateStatus,
	}
	for kind := range signals {
		d.handlers[kind] = d.signal(kind)
	}
	return d
}

// Handle processes one raw frame. It returns false when the frame could not
// be decoded at all; every other failure is answered with an error event.
func (d *Dispatcher) Handle(c *Conn, raw []byte) (decoded bool) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
		d.Fail(c, "", fmt.Errorf("%w: invalid frame", chat.ErrInvalid))
		return false
	}

	h, ok := d.handlers[f.Type]
	if !ok {
		d.metrics.FramesIn.WithLabelValues("unknown").Inc()
		d.Fail(c, f.RequestID, fmt.Errorf("%w: unsupported frame type %q", chat.ErrInvalid, f.Type))
		return true
	}
	d.metrics.FramesIn.WithLabelValues(f.Type).Inc()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("frame handler panic",
				zap.String("type", f.Type),
				zap.String("conn_id", c.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			d.Fail(c, f.RequestID, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := opContext(c.Context(), d.timeout)
	defer cancel()
	if err := h(ctx, c, f.Data); err != nil {
		d.Fail(c, f.RequestID, err)
	}
	return true
}

// Fail sends an error event to c alone.
func (d *Dispatcher) Fail(c *Conn, requestID string, err error) {
	code := ErrorCode(err)
	msg := err.Error()
	if code == "INTERNAL" {
		d.log.Error("frame failed", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID), zap.Error(err))
		msg = "internal error"
	} else if code == "UNAVAILABLE" {
		d.log.Warn("frame failed", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID), zap.Error(err))
		msg = "service temporarily unavailable"
	}
	d.metrics.FrameErrors.WithLabelValues(code).Inc()
	ev := event.New(event.Error, ErrorEvent{Message: msg, Code: code, RequestID: requestID})
	ev.RequestID = requestID
	d.hub.Send(c, ev)
}

// ErrorCode maps an error to the code carried by error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "UNAUTHENTICATED"
	case errors.Is(err, chat.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, chat.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, chat.ErrGateway):
		return "UNAVAILABLE"
	case errors.Is(err, chat.ErrInvalid):
		return "INVALID_ARGUMENT"
	case errors.Is(err, chat.ErrConflict):
		return "FAILED_PRECONDITION"
	case errors.Is(err, errRateLimited):
		return "RESOURCE_EXHAUSTED"
	default:
		return "INTERNAL"
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", chat.ErrInvalid)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed data", chat.ErrInvalid)
	}
	return nil
}

func actor(c *Conn) chat.Actor {
	return chat.Actor{UserID: c.UserID, ConnID: c.ID}
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", chat.ErrInvalid, field)
	}
	return nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in struct {
		ChatID        string `json:"chatId"`
		Content       string `json:"content"`
		MessageType   string `json:"messageType"`
		ReplyToID     string `json:"replyToId"`
		IsForwarded   bool   `json:"isForwarded"`
		ForwardedFrom string `json:"forwardedFrom"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	if err := required("chatId", in.ChatID); err != nil {
		return err
	}
	_, err := d.svc.SendMessage(ctx, actor(c), chat.SendInput{
		ChatID:        in.ChatID,
		Content:       in.Content,
		Type:          chat.MessageType(in.MessageType),
		ReplyToID:     in.ReplyToID,
		IsForwarded:   in.IsForwarded,
		ForwardedFrom: in.ForwardedFrom,
	})
	return err
}

func (d *Dispatcher) typing(on bool) handlerFunc {
	return func(_ context.Context, c *Conn, data json.RawMessage) error {
		var in struct {
			ChatID string `json:"chatId"`
		}
		if err := decode(data, &in); err != nil {
			return err
		}
		_, err := d.relay.Typing(c, in.ChatID, on)
		return err
	}
}

type messageRef struct {
	MessageID string `json:"messageId"`
}

// markRead accepts a single messageId or a batch in messageIds. A batch keeps
// going past failures and reports the first one.
func (d *Dispatcher) markRead(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in struct {
		MessageID  string   `json:"messageId"`
		MessageIDs []string `json:"messageIds"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	ids := in.MessageIDs
	if in.MessageID != "" {
		ids = append([]string{in.MessageID}, ids...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: messageId or messageIds is required", chat.ErrInvalid)
	}
	if len(ids) > maxBatchRead {
		return fmt.Errorf("%w: at most %d messages per batch", chat.ErrInvalid, maxBatchRead)
	}

	var first error
	for _, id := range ids {
		if _, err := d.svc.MarkRead(ctx, actor(c), id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (d *Dispatcher) markDelivered(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in messageRef
	if err := decode(data, &in); err != nil {
		return err
	}
	if err := required("messageId", in.MessageID); err != nil {
		return err
	}
	_, err := d.svc.MarkDelivered(ctx, actor(c), in.MessageID)
	return err
}

func (d *Dispatcher) addReaction(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in struct {
		MessageID string `json:"messageId"`
		Emoji     string `json:"emoji"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	if err := required("messageId", in.MessageID); err != nil {
		return err
	}
	_, err := d.svc.React(ctx, actor(c), in.MessageID, in.Emoji)
	return err
}

func (d *Dispatcher) removeReaction(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in messageRef
	if err := decode(data, &in); err != nil {
		return err
	}
	if err := required("messageId", in.MessageID); err != nil {
		return err
	}
	_, err := d.svc.Unreact(ctx, actor(c), in.MessageID)
	return err
}

func (d *Dispatcher) editMessage(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in struct {
		MessageID  string `json:"messageId"`
		NewContent string `json:"newContent"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	if err := required("messageId", in.MessageID); err != nil {
		return err
	}
	_, err := d.svc.EditMessage(ctx, actor(c), in.MessageID, in.NewContent)
	return err
}

func (d *Dispatcher) deleteMessage(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in struct {
		MessageID         string `json:"messageId"`
		DeleteForEveryone bool   `json:"deleteForEveryone"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	if err := required("messageId", in.MessageID); err != nil {
		return err
	}
	_, err := d.svc.DeleteMessage(ctx, actor(c), in.MessageID, in.DeleteForEveryone)
	return err
}

// starMessage sets the flag when starred is given and toggles it otherwise.
func (d *Dispatcher) starMessage(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in struct {
		MessageID string `json:"messageId"`
		Starred   *bool  `json:"starred"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	if err := required("messageId", in.MessageID); err != nil {
		return err
	}
	var err error
	if in.Starred == nil {
		_, err = d.svc.ToggleStar(ctx, actor(c), in.MessageID)
	} else {
		_, err = d.svc.SetStarred(ctx, actor(c), in.MessageID, *in.Starred)
	}
	return err
}

func (d *Dispatcher) updateStatus(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in struct {
		Status string `json:"status"`
	}
	if err := decode(data, &in); err != nil {
		return err
	}
	return d.sessions.UpdateStatus(ctx, c, in.Status)
}

func (d *Dispatcher) signal(kind string) handlerFunc {
	return func(_ context.Context, c *Conn, data json.RawMessage) error {
		var in struct {
			ChatID string `json:"chatId"`
		}
		if err := decode(data, &in); err != nil {
			return err
		}
		_, err := d.relay.Signal(c, kind, in.ChatID, data)
		return err
	}
}
