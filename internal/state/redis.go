package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"attune/internal/config"
	"attune/internal/model"
)

// Publisher mirrors per-session state into Redis so dashboards and
// caregiver apps can read it without hitting the API server.
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewPublisher(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Publisher{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, sessionID string, c model.Classification) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	key := p.prefix + sessionID
	if err := p.client.Set(ctx, key, payload, p.ttl).Err(); err != nil {
		if p.logger != nil {
			p.logger.Warn("redis publish failed", "session_id", sessionID, "err", err)
		}
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
