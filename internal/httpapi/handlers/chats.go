package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gopherchat/internal/chat"
)

// notifyMembers moves the live connections of each user into or out of the
// chat's room, then pushes the chat's new state to the room.
func (h *Handler) notifyMembers(ctx context.Context, chatID string, change chat.MembershipChange, userIDs ...string) {
	if h.Notifier == nil {
		return
	}
	for _, uid := range userIDs {
		h.Notifier.NotifyMembershipChanged(ctx, chatID, uid, change)
	}
	h.Notifier.NotifyChatUpdated(ctx, chatID)
}

type createIndividualReq struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

func (h *Handler) CreateIndividualChat(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	var req createIndividualReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch, created, err := h.ChatSvc.CreateIndividualChat(c.Request.Context(), actor, req.ParticipantID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	if created {
		h.notifyMembers(c.Request.Context(), ch.ID, chat.MembershipAdded, ch.ParticipantIDs()...)
	}
	ok(c, gin.H{"chat": ch, "created": created})
}

type createGroupReq struct {
	Name           string   `json:"name" binding:"required"`
	Description    string   `json:"description"`
	Avatar         string   `json:"avatar"`
	ParticipantIDs []string `json:"participantIds"`
}

func (h *Handler) CreateGroupChat(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	var req createGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch, err := h.ChatSvc.CreateGroupChat(c.Request.Context(), actor, chat.GroupInput{
		Name:           req.Name,
		Description:    req.Description,
		Avatar:         req.Avatar,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.notifyMembers(c.Request.Context(), ch.ID, chat.MembershipAdded, ch.ParticipantIDs()...)
	ok(c, gin.H{"chat": ch})
}

func (h *Handler) ListChats(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	chats, err := h.ChatSvc.ListChats(c.Request.Context(), actor.UserID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, gin.H{"chats": chats})
}

func (h *Handler) GetChat(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	ch, err := h.ChatSvc.GetChat(c.Request.Context(), actor, c.Param("chat_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, gin.H{"chat": ch})
}

type updateChatReq struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Avatar      *string `json:"avatar"`
}

func (h *Handler) UpdateChat(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	var req updateChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch, err := h.ChatSvc.UpdateGroup(c.Request.Context(), actor, c.Param("chat_id"), chat.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		Avatar:      req.Avatar,
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	if h.Notifier != nil {
		h.Notifier.NotifyChatUpdated(c.Request.Context(), ch.ID)
	}
	ok(c, gin.H{"chat": ch})
}

// DeleteChat deactivates the chat. Messages stay in storage.
func (h *Handler) DeleteChat(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	chatID := c.Param("chat_id")
	if err := h.ChatSvc.DeactivateChat(c.Request.Context(), actor, chatID); err != nil {
		h.failErr(c, err)
		return
	}
	if h.Notifier != nil {
		h.Notifier.NotifyChatUpdated(c.Request.Context(), chatID)
	}
	ok(c, gin.H{"chat_id": chatID, "is_active": false})
}

type addParticipantReq struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *Handler) AddParticipant(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	var req addParticipantReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch, err := h.ChatSvc.AddParticipant(c.Request.Context(), actor, c.Param("chat_id"), req.UserID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.notifyMembers(c.Request.Context(), ch.ID, chat.MembershipAdded, req.UserID)
	ok(c, gin.H{"chat": ch})
}

func (h *Handler) RemoveParticipant(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	userID := c.Param("user_id")
	ch, err := h.ChatSvc.RemoveParticipant(c.Request.Context(), actor, c.Param("chat_id"), userID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.notifyMembers(c.Request.Context(), ch.ID, chat.MembershipRemoved, userID)
	ok(c, gin.H{"chat": ch})
}

func (h *Handler) LeaveChat(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	ch, err := h.ChatSvc.LeaveChat(c.Request.Context(), actor, c.Param("chat_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.notifyMembers(c.Request.Context(), ch.ID, chat.MembershipRemoved, actor.UserID)
	ok(c, gin.H{"chat_id": ch.ID, "left": true})
}
