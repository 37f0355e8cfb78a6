package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

const maxDecodeErrorsPerConn = 5

// Server upgrades authenticated requests to websocket connections and runs
// one read and one write goroutine per connection.
type Server struct {
	cfg        config.WSConfig
	sessions   *Sessions
	membership *Membership
	dispatch   *Dispatcher
	hub        *Hub
	log        *zap.Logger
	upgrader   websocket.Upgrader

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

func NewServer(cfg config.WSConfig, origins []string, sessions *Sessions, membership *Membership, dispatch *Dispatcher, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		membership: membership,
		dispatch:   dispatch,
		hub:        hub,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
		base:   base,
		cancel: cancel,
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Close drops every live connection and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// Shutdown closes the server and waits until every connection has detached,
// so each user's offline state is written before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active.Add(1)
	return true
}

func tokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	return auth.BearerToken(r.Header.Get("Authorization"))
}

// Handle is the GET /ws endpoint. A bad credential is refused with 401
// before the upgrade, so no room is ever joined.
func (s *Server) Handle(c *gin.Context) {
	id, err := s.sessions.Authenticate(c.Request.Context(), tokenFromRequest(c.Request))
	if err != nil {
		if errors.Is(err, ErrAuth) {
			s.log.Info("websocket unauthorized", zap.String("remote", c.ClientIP()), zap.Error(err))
			common.Fail(c, http.StatusUnauthorized, 401, "unauthorized")
			return
		}
		s.log.Error("websocket authenticate", zap.Error(err))
		common.Fail(c, http.StatusServiceUnavailable, 503, "service unavailable")
		return
	}

	if !s.track() {
		common.Fail(c, http.StatusServiceUnavailable, 503, "shutting down")
		return
	}
	defer s.active.Done()

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	conn := NewConn(s.base, id.UserID, s.cfg.SendBuffer)
	conn.Name = id.User.Name
	s.serve(conn, ws, id)
}

func (s *Server) serve(conn *Conn, ws *websocket.Conn, id *Identity) {
	log := s.log.With(zap.String("conn_id", conn.ID), zap.String("user_id", conn.UserID))
	go s.writePump(conn, ws, log)

	s.sessions.Attach(conn.Context(), conn, id.User)
	rooms, err := s.membership.Sync(conn.Context(), conn)
	if err != nil {
		log.Warn("room sync failed", zap.Error(err))
		rooms = []string{}
	}
	s.hub.Send(conn, event.New(event.SessionReady, ReadyEvent{UserID: conn.UserID, ConnID: conn.ID, Rooms: rooms}))
	log.Debug("websocket connected", zap.Int("rooms", len(rooms)))

	s.readPump(conn, ws, log)
	s.sessions.Detach(conn.Context(), conn)
	log.Debug("websocket disconnected")
}

// readPump runs until the peer goes away, the pong wait elapses, the
// connection is closed locally or too many undecodable frames arrive.
func (s *Server) readPump(conn *Conn, ws *websocket.Conn, log *zap.Logger) {
	ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.InboundRPS), s.cfg.InboundBurst)
	decodeErrors := 0
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !conn.Closed() {
				log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		// any inbound traffic proves liveness
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		if !limiter.Allow() {
			s.dispatch.Fail(conn, "", errRateLimited)
			continue
		}
		if s.dispatch.Handle(conn, data) {
			decodeErrors = 0
			continue
		}
		decodeErrors++
		if decodeErrors >= maxDecodeErrorsPerConn {
			log.Info("closing connection after repeated invalid frames")
			return
		}
	}
}

func (s *Server) writePump(conn *Conn, ws *websocket.Conn, log *zap.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(s.cfg.WriteWait))
			return
		case b := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug("websocket write", zap.Error(err))
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
