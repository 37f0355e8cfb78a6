package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/httpapi"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/gopherchat/internal/logger"
	"github.com/suPer8Hu/gopherchat/internal/realtime"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/gopherchat/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}
	repo := chat.NewRepo(gdb)
	{
		ctx, cancel := context.WithTimeout(context.Background(), cfg.GatewayTimeout)
		// nothing is connected yet, so every stored online flag is stale
		if n, err := repo.ResetPresence(ctx); err != nil {
			lg.Warn("stored presence reset failed", zap.Error(err))
		} else if n > 0 {
			lg.Info("stored presence reset", zap.Int64("users", n))
		}
		cancel()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := realtime.NewMetrics(reg)
	hub := realtime.NewHub(lg.Named("hub"), metrics)

	svc := chat.NewService(repo, hub, lg.Named("chat"))

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = rds.Close() }()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rds.Ping(ctx); err != nil {
			lg.Warn("redis unavailable, presence mirror degraded", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else if err := rds.Reset(ctx); err != nil {
			// nothing is connected yet, so every online marker is stale
			lg.Warn("presence reset failed", zap.Error(err))
		}
		cancel()
	}

	h := &handlers.Handler{
		ChatSvc:  svc,
		Presence: rds,
		Users:    repo,
		Log:      lg.Named("http"),
	}
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		lg.Warn("rabbitmq unavailable, purge requests will fail", zap.Error(err))
	} else {
		defer func() { _ = pub.Close() }()
		h.Jobs = pub
	}

	sessions := realtime.NewSessions(auth.JWTVerifier{Secret: cfg.JWTSecret}, repo, hub, rds, lg.Named("session"), cfg.GatewayTimeout)
	membership := realtime.NewMembership(repo, hub, lg.Named("membership"), cfg.GatewayTimeout)
	relay := realtime.NewRelay(hub)
	dispatch := realtime.NewDispatcher(svc, sessions, relay, hub, metrics, lg.Named("dispatch"), cfg.GatewayTimeout)
	ws := realtime.NewServer(cfg.WS, cfg.CORSOrigins, sessions, membership, dispatch, hub, lg.Named("ws"))
	h.Notifier = membership

	r := httpapi.NewRouter(cfg, httpapi.Deps{
		Handler:  h,
		WS:       ws.Handle,
		Gatherer: reg,
		Log:      lg.Named("access"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		lg.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// hijacked websocket conns are not tracked by srv.Shutdown
	if err := ws.Shutdown(shutdownCtx); err != nil {
		lg.Warn("websocket drain incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown", zap.Error(err))
	}
}
