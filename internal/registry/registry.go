// Package registry records which serial client a gateway is serving so
// other services can see it without talking to the device.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry describes the active serial-bridge connection of one gateway.
type Entry struct {
	GatewayID string
	ConnID    string
	Remote    string
	Framing   string
}

type Store interface {
	Register(ctx context.Context, e Entry) error
	Touch(ctx context.Context, gatewayID string) error
	Remove(ctx context.Context, gatewayID string) error
}

// Nop is used when no registry backend is configured.
type Nop struct{}

func (Nop) Register(context.Context, Entry) error { return nil }
func (Nop) Touch(context.Context, string) error   { return nil }
func (Nop) Remove(context.Context, string) error  { return nil }

const (
	DefaultTTL       = 300 * time.Second
	defaultShadowTTL = 24 * time.Hour
)

// RedisStore keeps serialgw:conn:<gateway> = <conn>:<remote>:<framing>
// with a TTL, plus a shadow hash with the last activity time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func ConnKey(gatewayID string) string {
	return fmt.Sprintf("serialgw:conn:%s", gatewayID)
}

func ShadowKey(gatewayID string) string {
	return fmt.Sprintf("serialgw:shadow:%s", gatewayID)
}

func (e Entry) value() string {
	return fmt.Sprintf("%s:%s:%s", e.ConnID, e.Remote, e.Framing)
}

func (s *RedisStore) Register(ctx context.Context, e Entry) error {
	if err := s.client.Set(ctx, ConnKey(e.GatewayID), e.value(), s.ttl).Err(); err != nil {
		return fmt.Errorf("registry: register %s: %w", e.GatewayID, err)
	}
	return s.shadow(ctx, e.GatewayID, map[string]any{
		"conn_id":     e.ConnID,
		"remote":      e.Remote,
		"accepted_at": s.now().Unix(),
		"ts":          s.now().Unix(),
	})
}

func (s *RedisStore) Touch(ctx context.Context, gatewayID string) error {
	if err := s.client.Expire(ctx, ConnKey(gatewayID), s.ttl).Err(); err != nil {
		return fmt.Errorf("registry: touch %s: %w", gatewayID, err)
	}
	return s.shadow(ctx, gatewayID, map[string]any{"ts": s.now().Unix()})
}

func (s *RedisStore) Remove(ctx context.Context, gatewayID string) error {
	if err := s.client.Del(ctx, ConnKey(gatewayID)).Err(); err != nil {
		return fmt.Errorf("registry: remove %s: %w", gatewayID, err)
	}
	return nil
}

func (s *RedisStore) shadow(ctx context.Context, gatewayID string, fields map[string]any) error {
	key := ShadowKey(gatewayID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, defaultShadowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: shadow %s: %w", gatewayID, err)
	}
	return nil
}

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("registry: connect redis %s: %w", addr, err)
	}
	return client, nil
}
