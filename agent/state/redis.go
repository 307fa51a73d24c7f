package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists Conversation in a regular Redis instance via go-redis.
// Alternative to UpstashRedisStore for deployments with direct Redis access.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

type RedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"24h"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, errors.New("redis url is required")
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultStoreTTL
	}

	return &RedisStore{
		client:    client,
		keyPrefix: defaultStoreKeyPrefix,
		ttl:       ttl,
	}, nil
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}

	// GETEX keeps the inactivity TTL aligned with reads.
	payload, err := s.client.GetEx(ctx, s.keyPrefix+conversationID, s.ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(payload), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation loaded from store: %w", err)
	}
	return &conv, nil
}

func (s *RedisStore) Save(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(conv.ID) == "" {
		return ErrInvalidConversation
	}

	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+conv.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrInvalidConversation
	}
	if err := s.client.Del(ctx, s.keyPrefix+conversationID).Err(); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
