package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
)

// Deps carries what the router mounts. WS and Gatherer are optional.
type Deps struct {
	Handler  *handlers.Handler
	WS       gin.HandlerFunc
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}

func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := d.Handler

	r.GET("/ping", h.Ping)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	// websocket does its own credential check (query token or bearer)
	if d.WS != nil {
		r.GET("/ws", d.WS)
	}

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	// chats
	authGroup.POST("/chats/individual", h.CreateIndividualChat)
	authGroup.POST("/chats/group", h.CreateGroupChat)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id", h.GetChat)
	authGroup.PUT("/chats/:chat_id", h.UpdateChat)
	authGroup.DELETE("/chats/:chat_id", h.DeleteChat)
	authGroup.POST("/chats/:chat_id/participants", h.AddParticipant)
	authGroup.DELETE("/chats/:chat_id/participants/:user_id", h.RemoveParticipant)
	authGroup.POST("/chats/:chat_id/leave", h.LeaveChat)

	// messages
	authGroup.GET("/chats/:chat_id/messages", h.ListMessages)
	authGroup.GET("/messages/starred", h.StarredMessages)
	authGroup.POST("/messages/:message_id/delivered", h.MarkDelivered)
	authGroup.POST("/messages/:message_id/star", h.StarMessage)
	authGroup.POST("/messages/:message_id/purge", h.PurgeMessage)
	authGroup.GET("/purge-jobs/:job_id", h.GetPurgeJob)

	authGroup.GET("/users/:id/presence", h.GetPresence)
	return r
}
