package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/gopherchat/internal/realtime"
	"github.com/suPer8Hu/gopherchat/internal/store/redisstore"
)

// JobQueue hands purge jobs to the worker.
type JobQueue interface {
	PublishJob(ctx context.Context, jobID string) error
}

type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (redisstore.Presence, error)
}

type UserReader interface {
	GetUser(ctx context.Context, id string) (*chat.User, error)
}

type Handler struct {
	ChatSvc  *chat.Service
	Notifier realtime.Notifier
	Jobs     JobQueue
	Presence PresenceReader
	Users    UserReader
	Log      *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func ok(c *gin.Context, data any) {
	common.OK(c, data)
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	common.Fail(c, httpStatus, code, msg)
}

// failErr maps a service error onto the response envelope.
func (h *Handler) failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalid):
		fail(c, http.StatusBadRequest, 40001, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		fail(c, http.StatusForbidden, 40301, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		fail(c, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, chat.ErrConflict):
		fail(c, http.StatusConflict, 40901, "already exists")
	case errors.Is(err, chat.ErrGateway):
		h.logger().Warn("gateway failure", zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusServiceUnavailable, 50301, "service temporarily unavailable")
	default:
		h.logger().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// actorFrom resolves the caller or writes a 401.
func actorFrom(c *gin.Context) (chat.Actor, bool) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return chat.Actor{}, false
	}
	return chat.Actor{UserID: uid}, true
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}
