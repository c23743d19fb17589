package kds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Envelope carries one hub frame between replicas.
type Envelope struct {
	Origin  string          `json:"origin"`
	Rooms   []string        `json:"rooms"`
	Payload json.RawMessage `json:"payload"`
}

// Backplane fans frames out across store replicas so a socket connected to
// one replica sees mutations made through another.
type Backplane interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe blocks, invoking handle for each envelope, until ctx ends.
	Subscribe(ctx context.Context, handle func(Envelope)) error
	Close() error
}

const DefaultChannel = "restaurant:kds"

type RedisBackplane struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBackplane(rdb *redis.Client, channel string) *RedisBackplane {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBackplane{rdb: rdb, channel: channel}
}

// DialRedis connects to addr and pings it. It returns an error instead of a
// client when the server is unreachable so callers can run without fan-out.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (b *RedisBackplane) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBackplane) Subscribe(ctx context.Context, handle func(Envelope)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				continue
			}
			handle(env)
		}
	}
}

func (b *RedisBackplane) Close() error {
	return b.rdb.Close()
}

func (h *Hub) SetBackplane(b Backplane) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backplane = b
}

func (h *Hub) currentBackplane() Backplane {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.backplane
}

// RunBackplane delivers frames published by other replicas until ctx ends.
func (h *Hub) RunBackplane(ctx context.Context) error {
	bp := h.currentBackplane()
	if bp == nil {
		return nil
	}
	h.log.WithField("origin", h.origin).Info("kds backplane subscribed")
	return bp.Subscribe(ctx, func(env Envelope) {
		if env.Origin == h.origin {
			return
		}
		h.log.WithFields(logrus.Fields{"origin": env.Origin, "rooms": env.Rooms}).Debug("backplane frame")
		h.deliver(env.Payload, env.Rooms, nil)
	})
}
