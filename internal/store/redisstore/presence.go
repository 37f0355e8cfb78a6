package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey   = "presence:online"
	lastSeenKey = "presence:last_seen"
)

// Store mirrors presence into Redis so other processes can answer "is this
// user online" without touching the database.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

type Presence struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen"`
}

func (s *Store) SetOnline(ctx context.Context, userID string) error {
	return s.rdb.SAdd(ctx, onlineKey, userID).Err()
}

func (s *Store) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, onlineKey, userID)
	pipe.HSet(ctx, lastSeenKey, userID, lastSeen.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetPresence(ctx context.Context, userID string) (Presence, error) {
	p := Presence{UserID: userID}

	pipe := s.rdb.Pipeline()
	online := pipe.SIsMember(ctx, onlineKey, userID)
	seen := pipe.HGet(ctx, lastSeenKey, userID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return p, err
	}

	p.Online = online.Val()
	if raw, err := seen.Result(); err == nil {
		ms, perr := strconv.ParseInt(raw, 10, 64)
		if perr == nil {
			t := time.UnixMilli(ms).UTC()
			p.LastSeen = &t
		}
	} else if !errors.Is(err, redis.Nil) {
		return p, err
	}
	return p, nil
}

// Reset clears the online set. Called at startup: a crashed process leaves
// stale members behind.
func (s *Store) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, onlineKey).Err()
}
