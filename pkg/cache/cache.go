package cache

import (
	"context"
	"encoding/json"
	"time"

	"donation-service/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects and pings once so a misconfigured address fails at
// startup rather than on the first donation.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

const (
	webhookFailureList   = "donation:webhook:failures"
	webhookFailureMax    = 1000
	webhookFailureWindow = time.Hour
	// webhookFailureWarnAt is the per-provider hourly failure count that
	// escalates to a warning.
	webhookFailureWarnAt = 5

	receiptKeyPrefix = "donation:receipt:"
	receiptTTL       = 24 * time.Hour
)

// WebhookFailureStore keeps a capped list of webhook processing failures in
// redis so operators can inspect recent problems without log access.
type WebhookFailureStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewWebhookFailureStore(client *redis.Client, logger *zap.Logger) *WebhookFailureStore {
	return &WebhookFailureStore{client: client, logger: logger}
}

type webhookFailure struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurred_at"`
}

func (s *WebhookFailureStore) RecordFailure(ctx context.Context, providerName, externalID, reason string) {
	entry, err := json.Marshal(webhookFailure{
		Provider:   providerName,
		ExternalID: externalID,
		Reason:     reason,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	counterKey := webhookFailureList + ":" + providerName

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, webhookFailureList, entry)
	pipe.LTrim(ctx, webhookFailureList, 0, webhookFailureMax-1)
	count := pipe.Incr(ctx, counterKey)
	pipe.ExpireNX(ctx, counterKey, webhookFailureWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("record webhook failure", zap.Error(err))
		return
	}

	if count.Val() >= webhookFailureWarnAt {
		s.logger.Warn("webhook failure rate elevated",
			zap.String("provider", providerName),
			zap.Int64("failures_last_hour", count.Val()))
	}
}

// RecentFailures returns up to n most recent failure entries, newest first.
func (s *WebhookFailureStore) RecentFailures(ctx context.Context, n int64) ([]json.RawMessage, error) {
	entries, err := s.client.LRange(ctx, webhookFailureList, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = json.RawMessage(e)
	}
	return out, nil
}

// ReceiptCache is a read-through cache for donor receipt lookups, keyed by
// donation id.
type ReceiptCache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewReceiptCache(client *redis.Client, logger *zap.Logger) *ReceiptCache {
	return &ReceiptCache{client: client, logger: logger}
}

func (c *ReceiptCache) Get(ctx context.Context, donationID string, out interface{}) bool {
	data, err := c.client.Get(ctx, receiptKeyPrefix+donationID).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn("receipt cache get", zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	return true
}

func (c *ReceiptCache) Set(ctx context.Context, donationID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, receiptKeyPrefix+donationID, data, receiptTTL).Err(); err != nil {
		c.logger.Warn("receipt cache set", zap.Error(err))
	}
}
