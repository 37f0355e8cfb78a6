package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/logger"
	"github.com/suPer8Hu/gopherchat/internal/purge"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
)

const (
	maxAttempts = 5
	baseBackoff = 2 * time.Second
	maxBackoff  = time.Minute
)

func backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

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
	repo := chat.NewRepo(gdb)
	// purge publishes nothing, so no hub is needed here
	svc := chat.NewService(repo, nil, lg.Named("chat"))
	runner := purge.NewRunner(repo, svc, lg.Named("purge"))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		lg.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		lg.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.Declare(ch, cfg.RabbitQueue); err != nil {
		lg.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		lg.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		lg.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	// the channel is shared by all workers for retry publishes
	var pubMu sync.Mutex

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := lg.With(zap.Int("worker", workerID))
			for d := range jobs {
				handleDelivery(ctx, wlog, runner, ch, &pubMu, cfg.RabbitQueue, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			lg.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				lg.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, lg *zap.Logger, runner *purge.Runner, ch *amqp.Channel, pubMu *sync.Mutex, queue string, d amqp.Delivery) {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		lg.Warn("bad message", zap.ByteString("body", d.Body), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	attempt := rabbitmq.Attempt(d.Headers)
	jlog := lg.With(zap.String("job_id", m.JobID), zap.Int("attempt", attempt))

	start := time.Now()
	err := runner.Run(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			jlog.Warn("ack failed", zap.Error(err))
		}
		jlog.Info("job done", zap.Duration("cost", time.Since(start)))
		return
	}

	switch {
	case purge.Permanent(err):
		jlog.Warn("job dropped", zap.Error(err))
		_ = d.Ack(false)
	case attempt >= maxAttempts:
		jlog.Error("job failed, giving up", zap.Error(err))
		runner.Fail(ctx, m.JobID, err)
		// main queue dead-letters to the dlq
		_ = d.Nack(false, false)
	default:
		delay := backoff(attempt)
		pubMu.Lock()
		rerr := rabbitmq.Retry(ctx, ch, queue, d.Body, attempt, delay)
		pubMu.Unlock()
		if rerr != nil {
			jlog.Error("schedule retry failed", zap.Error(rerr))
			_ = d.Nack(false, true)
			return
		}
		jlog.Warn("job failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		_ = d.Ack(false)
	}
}
