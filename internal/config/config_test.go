package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "purge_jobs", cfg.RabbitQueue)
	require.Equal(t, 64, cfg.WS.SendBuffer)
	require.Equal(t, 60*time.Second, cfg.WS.PongWait)
	require.Less(t, cfg.WS.PingInterval, cfg.WS.PongWait)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("WS_PONG_WAIT", "10s")
	t.Setenv("WS_PING_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, 50, cfg.WorkerConcurrency)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, 9*time.Second, cfg.WS.PingInterval)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("WS_PONG_WAIT", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_NonPositiveWebsocketTunables(t *testing.T) {
	t.Setenv("WS_WRITE_WAIT", "0s")
	t.Setenv("WS_MAX_MESSAGE_BYTES", "-1")
	t.Setenv("WS_INBOUND_RPS", "0")
	t.Setenv("WS_INBOUND_BURST", "0")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.WS.WriteWait)
	require.Equal(t, int64(65536), cfg.WS.MaxMessageBytes)
	require.Equal(t, float64(20), cfg.WS.InboundRPS)
	require.Equal(t, 40, cfg.WS.InboundBurst)
}
