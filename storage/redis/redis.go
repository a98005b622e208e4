// Package redis provides a Redis implementation of the subscription.Store
// interface. Quota consumption runs as a Lua script so the check-and-increment
// is atomic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// Store implements subscription.Store using Redis
type Store struct {
	client  redis.UniversalClient
	config  Config
	consume *redis.Script
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "pitchly:")
	KeyPrefix string

	// RecordTTL is the TTL for record keys (0 = no expiration)
	RecordTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "pitchly:",
		RecordTTL: 0,
	}
}

// consumeScript charges one proposal atomically. The effective limit is the
// stored limit while the record is active and the free limit otherwise; a
// negative limit means unlimited.
const consumeScript = `
	local key = KEYS[1]
	local freeLimit = tonumber(ARGV[1])
	local defaultRecord = ARGV[2]
	local now = ARGV[3]
	local ttl = tonumber(ARGV[4])

	local raw = redis.call('GET', key)
	if not raw then
		raw = defaultRecord
	end

	local rec = cjson.decode(raw)
	local limit = tonumber(rec.proposals_limit)
	if rec.status ~= 'active' then
		limit = freeLimit
	end

	local used = tonumber(rec.proposals_used) or 0
	if limit >= 0 and used >= limit then
		return {raw, 'quota_exceeded'}
	end

	rec.proposals_used = used + 1
	rec.updated_at = now
	local encoded = cjson.encode(rec)
	redis.call('SET', key, encoded)
	if ttl > 0 then
		redis.call('EXPIRE', key, ttl)
	end

	return {encoded, 'ok'}
`

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "pitchly:"
	}

	return &Store{
		client:  client,
		config:  config,
		consume: redis.NewScript(consumeScript),
	}, nil
}

func (s *Store) recordKey(userID string) string {
	return s.config.KeyPrefix + "record:" + userID
}

func (s *Store) customerKey(customerID string) string {
	return s.config.KeyPrefix + "customer:" + customerID
}

// Get implements subscription.Store
func (s *Store) Get(ctx context.Context, userID string) (*subscription.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, subscription.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return decodeRecord(raw)
}

// GetByCustomerID implements subscription.Store
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Record, error) {
	if customerID == "" {
		return nil, subscription.ErrRecordNotFound
	}

	userID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, subscription.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer index: %w", err)
	}
	return s.Get(ctx, userID)
}

// Upsert implements subscription.Store. The record and the customer reverse
// index are written in one pipeline.
func (s *Store) Upsert(ctx context.Context, rec *subscription.Record) error {
	if rec == nil || rec.UserID == "" {
		return subscription.ErrInvalidRecord
	}

	stored := *rec
	stored.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(stored.UserID), raw, s.config.RecordTTL)
		if stored.ExternalCustomerID != "" {
			pipe.Set(ctx, s.customerKey(stored.ExternalCustomerID), stored.UserID, s.config.RecordTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// ConsumeProposal implements subscription.Store
func (s *Store) ConsumeProposal(ctx context.Context, userID string) (*subscription.Record, error) {
	if userID == "" {
		return nil, subscription.ErrInvalidRecord
	}

	free := subscription.NewFreeRecord(userID)
	defaultRaw, err := json.Marshal(free)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default record: %w", err)
	}

	res, err := s.consume.Run(ctx, s.client,
		[]string{s.recordKey(userID)},
		subscription.FreeProposalsLimit,
		string(defaultRaw),
		time.Now().UTC().Format(time.RFC3339Nano),
		int(s.config.RecordTTL.Seconds()),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to consume proposal: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return nil, fmt.Errorf("unexpected script reply: %v", res)
	}

	raw, _ := reply[0].(string)
	status, _ := reply[1].(string)

	if status == "quota_exceeded" {
		return nil, subscription.ErrQuotaExceeded
	}

	return decodeRecord([]byte(raw))
}

func decodeRecord(raw []byte) (*subscription.Record, error) {
	var rec subscription.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}
