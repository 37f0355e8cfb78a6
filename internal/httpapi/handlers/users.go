package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type presenceResp struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// GetPresence reads the Redis mirror. When the mirror has never seen the user,
// the stored user row fills in.
func (h *Handler) GetPresence(c *gin.Context) {
	if _, okk := actorFrom(c); !okk {
		return
	}
	userID := c.Param("id")

	var resp presenceResp
	resp.UserID = userID
	if h.Presence != nil {
		p, err := h.Presence.GetPresence(c.Request.Context(), userID)
		if err != nil {
			h.logger().Warn("presence mirror read failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			resp.Online = p.Online
			resp.LastSeen = p.LastSeen
			if p.Online || p.LastSeen != nil {
				ok(c, resp)
				return
			}
		}
	}

	if h.Users == nil {
		fail(c, http.StatusServiceUnavailable, 50301, "presence unavailable")
		return
	}
	u, err := h.Users.GetUser(c.Request.Context(), userID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	resp.Online = u.IsOnline
	if !u.LastSeen.IsZero() {
		seen := u.LastSeen
		resp.LastSeen = &seen
	}
	ok(c, resp)
}
