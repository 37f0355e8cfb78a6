package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
)

type messagesResp struct {
	Messages []chat.MessageView `json:"messages"`
	// NextBeforeID is the id of the oldest message in this page; pass it back
	// as before_id to page further. Empty when the page is short.
	NextBeforeID string `json:"next_before_id,omitempty"`
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, 10001, "invalid limit")
		return 0, false
	}
	return n, true
}

func (h *Handler) ListMessages(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	limit, okk := queryLimit(c)
	if !okk {
		return
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), actor, c.Param("chat_id"), limit, c.Query("before_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	resp := messagesResp{Messages: msgs}
	if limit > 0 && len(msgs) == limit {
		resp.NextBeforeID = msgs[0].ID
	}
	ok(c, resp)
}

func (h *Handler) StarredMessages(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	limit, okk := queryLimit(c)
	if !okk {
		return
	}

	msgs, err := h.ChatSvc.StarredMessages(c.Request.Context(), actor.UserID, limit)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, gin.H{"messages": msgs})
}

func (h *Handler) MarkDelivered(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	messageID := c.Param("message_id")
	ev, err := h.ChatSvc.MarkDelivered(c.Request.Context(), actor, messageID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	// nil receipt: the caller sent the message
	ok(c, gin.H{"message_id": messageID, "receipt": ev})
}

type starReq struct {
	Starred *bool `json:"starred"`
}

// StarMessage sets the flag when the body carries "starred", otherwise it
// toggles.
func (h *Handler) StarMessage(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	var req starReq
	// an empty body toggles
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var (
		ev  *chat.StarEvent
		err error
	)
	messageID := c.Param("message_id")
	if req.Starred != nil {
		ev, err = h.ChatSvc.SetStarred(c.Request.Context(), actor, messageID, *req.Starred)
	} else {
		ev, err = h.ChatSvc.ToggleStar(c.Request.Context(), actor, messageID)
	}
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, ev)
}

type purgeJobResp struct {
	JobID     string         `json:"job_id"`
	MessageID string         `json:"message_id"`
	ChatID    string         `json:"chat_id"`
	Status    chat.JobStatus `json:"status"`
	Error     *string        `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toPurgeJobResp(j *chat.PurgeJob) purgeJobResp {
	return purgeJobResp{
		JobID:     j.ID,
		MessageID: j.MessageID,
		ChatID:    j.ChatID,
		Status:    j.Status,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// PurgeMessage records a purge job and hands it to the worker. A job that is
// still queued is re-published so a failed enqueue can be retried by calling
// again.
func (h *Handler) PurgeMessage(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	job, created, err := h.ChatSvc.RequestPurge(c.Request.Context(), actor, c.Param("message_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}

	if job.Status == chat.JobQueued {
		if h.Jobs == nil {
			fail(c, http.StatusServiceUnavailable, 50301, "job queue not configured")
			return
		}
		if err := h.Jobs.PublishJob(c.Request.Context(), job.ID); err != nil {
			h.logger().Error("publish purge job failed", zap.String("job_id", job.ID), zap.Error(err))
			fail(c, http.StatusServiceUnavailable, 50302, "failed to enqueue job")
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"code": 0, "message": "ok", "data": toPurgeJobResp(job)})
}

func (h *Handler) GetPurgeJob(c *gin.Context) {
	actor, okk := actorFrom(c)
	if !okk {
		return
	}
	job, err := h.ChatSvc.GetPurgeJob(c.Request.Context(), actor, c.Param("job_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, toPurgeJobResp(job))
}
