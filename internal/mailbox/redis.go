package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/metrics"
	"relaybox.app/relay/internal/model"
)

const (
	DefaultTTL       = 5 * time.Minute
	DefaultOpTimeout = 10 * time.Second
)

type RedisConfig struct {
	KeyPrefix string
	TTL       time.Duration
	OpTimeout time.Duration
	Metrics   *metrics.Metrics
}

// RedisStore keeps each mailbox in a Redis list. Append is RPUSH+PEXPIRE and
// Drain is LRANGE+DEL, each pair sent as one MULTI/EXEC transaction.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewRedisStore builds a store on top of client. A nil client is allowed and
// makes every operation fail with ErrUnavailable.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	return &RedisStore{
		client:  client,
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.TTL,
		timeout: cfg.OpTimeout,
		metrics: cfg.Metrics,
	}
}

func (s *RedisStore) key(sessionKey model.SessionKey) string {
	return s.prefix + string(sessionKey)
}

func (s *RedisStore) Append(ctx context.Context, sessionKey model.SessionKey, entry model.MailboxEntry) (err error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.mailbox.redis",
		SessionKey: logger.Ptr(string(sessionKey)),
		MessageID:  logger.Ptr(entry.ID),
	})
	if s.client == nil {
		return fmt.Errorf("%w: redis not configured", ErrUnavailable)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding mailbox entry: %w", err)
	}

	started := time.Now()
	defer func() { s.metrics.ObserveStore("append", started, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	k := s.key(sessionKey)
	err = s.appendTx(ctx, k, payload)
	if isWrongType(err) {
		// Something other than a list sits under the key. Drop it so the
		// session is not wedged until the stale value expires.
		slog.WarnContext(ctx, "mailbox key held a non-list value, resetting", "error", err)
		s.metrics.CorruptEntry()
		if delErr := s.client.Del(ctx, k).Err(); delErr != nil {
			return unavailable("del", delErr)
		}
		err = s.appendTx(ctx, k, payload)
	}
	if err != nil {
		return unavailable("append", err)
	}

	slog.DebugContext(ctx, "mailbox entry appended", "ttl", s.ttl)
	return nil
}

func (s *RedisStore) appendTx(ctx context.Context, k string, payload []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, payload)
		pipe.PExpire(ctx, k, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) Drain(ctx context.Context, sessionKey model.SessionKey) (entries []model.MailboxEntry, err error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "relay.mailbox.redis",
		SessionKey: logger.Ptr(string(sessionKey)),
	})
	if s.client == nil {
		return nil, fmt.Errorf("%w: redis not configured", ErrUnavailable)
	}

	started := time.Now()
	defer func() { s.metrics.ObserveStore("drain", started, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	k := s.key(sessionKey)
	var lrange *redis.StringSliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, k, 0, -1)
		pipe.Del(ctx, k)
		return nil
	})
	if err != nil {
		if isWrongType(err) {
			// DEL ran inside the same transaction, so the bad value is gone.
			slog.WarnContext(ctx, "mailbox key held a non-list value, treated as empty", "error", err)
			s.metrics.CorruptEntry()
			return []model.MailboxEntry{}, nil
		}
		return nil, unavailable("drain", err)
	}

	raw := lrange.Val()
	entries = make([]model.MailboxEntry, 0, len(raw))
	for i, item := range raw {
		var entry model.MailboxEntry
		if decodeErr := json.Unmarshal([]byte(item), &entry); decodeErr != nil {
			slog.WarnContext(ctx, "discarding undecodable mailbox entry",
				"error", decodeErr,
				"position", i,
				"value", logger.Truncate(item, 64))
			s.metrics.CorruptEntry()
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) > 0 {
		slog.DebugContext(ctx, "mailbox drained", "count", len(entries))
	}
	return entries, nil
}

// Ping reports whether the backing Redis answers within the op timeout.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("%w: redis not configured", ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out: %w", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// isWrongType reports a WRONGTYPE reply from the server anywhere in err's
// chain. Client-side errors that merely mention it do not count.
func isWrongType(err error) bool {
	var reply redis.Error
	if !errors.As(err, &reply) {
		return false
	}
	return strings.HasPrefix(reply.Error(), "WRONGTYPE")
}
