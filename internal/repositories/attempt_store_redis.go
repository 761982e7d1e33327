package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig configures key layout for the Redis-backed ledger
type RedisStoreConfig struct {
	KeyPrefix string
	// KeyTTL is a safety expiry applied to per-identity and per-network keys.
	// Zero disables it and leaves expiry to Evict.
	KeyTTL time.Duration
}

// RedisAttemptStore keeps the ledger in Redis so that several API instances see
// the same attempts and lockouts. Attempts live in one sorted set per identity
// scored by unix microseconds; lockouts live in a single hash. Members carry a
// zero-padded sequence prefix so attempts sharing a score keep insertion order.
type RedisAttemptStore struct {
	client *redis.Client
	cfg    RedisStoreConfig
}

// NewRedisAttemptStore creates a store using the provided client
func NewRedisAttemptStore(client *redis.Client, cfg RedisStoreConfig) *RedisAttemptStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "authguard"
	}
	return &RedisAttemptStore{client: client, cfg: cfg}
}

func (r *RedisAttemptStore) attemptsKey(identity string) string {
	return fmt.Sprintf("%s:attempts:%s", r.cfg.KeyPrefix, identity)
}

func (r *RedisAttemptStore) networkKey(ip string) string {
	return fmt.Sprintf("%s:network:%s", r.cfg.KeyPrefix, ip)
}

func (r *RedisAttemptStore) identitiesKey() string { return r.cfg.KeyPrefix + ":identities" }
func (r *RedisAttemptStore) networksKey() string   { return r.cfg.KeyPrefix + ":networks" }
func (r *RedisAttemptStore) lockoutsKey() string   { return r.cfg.KeyPrefix + ":lockouts" }
func (r *RedisAttemptStore) sequenceKey() string   { return r.cfg.KeyPrefix + ":seq" }

// score uses microseconds so sorted-set scores stay exact in a float64
func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// encodeMember prefixes the payload with seq; equal scores sort by member bytes
func encodeMember(seq int64, payload []byte) string {
	return fmt.Sprintf("%020d|%s", seq, payload)
}

func decodeMember(member string) ([]byte, error) {
	_, payload, ok := strings.Cut(member, "|")
	if !ok {
		return nil, fmt.Errorf("attempt member missing sequence prefix")
	}
	return []byte(payload), nil
}

// Record appends the attempt and clears the lockout on success in one transaction
func (r *RedisAttemptStore) Record(ctx context.Context, attempt *models.Attempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}

	seq, err := r.client.Incr(ctx, r.sequenceKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr sequence: %w", err)
	}
	member := encodeMember(seq, payload)

	at := float64(attempt.AttemptTime.UnixMicro())
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := r.attemptsKey(attempt.Identity)
		pipe.ZAdd(ctx, key, redis.Z{Score: at, Member: member})
		pipe.SAdd(ctx, r.identitiesKey(), attempt.Identity)
		if r.cfg.KeyTTL > 0 {
			pipe.Expire(ctx, key, r.cfg.KeyTTL)
		}

		if attempt.IPAddress != "" {
			nkey := r.networkKey(attempt.IPAddress)
			pipe.ZAdd(ctx, nkey, redis.Z{Score: at, Member: attempt.ID.String()})
			pipe.SAdd(ctx, r.networksKey(), attempt.IPAddress)
			if r.cfg.KeyTTL > 0 {
				pipe.Expire(ctx, nkey, r.cfg.KeyTTL)
			}
		}

		if attempt.Success {
			pipe.HDel(ctx, r.lockoutsKey(), attempt.Identity)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}
	return nil
}

func (r *RedisAttemptStore) rangeSince(ctx context.Context, key string, since time.Time) ([]models.Attempt, error) {
	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: score(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	attempts := make([]models.Attempt, 0, len(members))
	for _, m := range members {
		payload, err := decodeMember(m)
		if err != nil {
			return nil, err
		}
		var a models.Attempt
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// Query returns the identity's attempts of kind since the given instant, oldest first
func (r *RedisAttemptStore) Query(ctx context.Context, identity string, kind models.AttemptKind, since time.Time) ([]models.Attempt, error) {
	attempts, err := r.rangeSince(ctx, r.attemptsKey(identity), since)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return attempts, nil
	}

	filtered := attempts[:0]
	for _, a := range attempts {
		if a.Kind == kind {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// CountByNetwork counts attempts from ipAddress since the given instant
func (r *RedisAttemptStore) CountByNetwork(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if ipAddress == "" {
		return 0, nil
	}
	n, err := r.client.ZCount(ctx, r.networkKey(ipAddress), score(since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}
	return int(n), nil
}

// ListSince walks the identity index and collects recent attempts
func (r *RedisAttemptStore) ListSince(ctx context.Context, since time.Time) ([]models.Attempt, error) {
	identities, err := r.client.SMembers(ctx, r.identitiesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	var result []models.Attempt
	for _, identity := range identities {
		attempts, err := r.rangeSince(ctx, r.attemptsKey(identity), since)
		if err != nil {
			return nil, err
		}
		result = append(result, attempts...)
	}
	return result, nil
}

// Evict trims sorted sets, drops empty keys from the indexes and expires lockouts
func (r *RedisAttemptStore) Evict(ctx context.Context, before, now time.Time) (EvictResult, error) {
	var res EvictResult
	cutoff := "(" + score(before)

	identities, err := r.client.SMembers(ctx, r.identitiesKey()).Result()
	if err != nil {
		return res, fmt.Errorf("redis smembers: %w", err)
	}
	for _, identity := range identities {
		key := r.attemptsKey(identity)
		removed, err := r.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Result()
		if err != nil {
			return res, fmt.Errorf("redis zremrangebyscore: %w", err)
		}
		res.AttemptsRemoved += removed

		remaining, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return res, fmt.Errorf("redis zcard: %w", err)
		}
		if remaining == 0 {
			if err := r.client.SRem(ctx, r.identitiesKey(), identity).Err(); err != nil {
				return res, fmt.Errorf("redis srem: %w", err)
			}
			res.IdentitiesRemoved++
		}
	}

	networks, err := r.client.SMembers(ctx, r.networksKey()).Result()
	if err != nil {
		return res, fmt.Errorf("redis smembers: %w", err)
	}
	for _, ip := range networks {
		key := r.networkKey(ip)
		if err := r.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
			return res, fmt.Errorf("redis zremrangebyscore: %w", err)
		}
		remaining, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return res, fmt.Errorf("redis zcard: %w", err)
		}
		if remaining == 0 {
			if err := r.client.SRem(ctx, r.networksKey(), ip).Err(); err != nil {
				return res, fmt.Errorf("redis srem: %w", err)
			}
		}
	}

	lockouts, err := r.client.HGetAll(ctx, r.lockoutsKey()).Result()
	if err != nil {
		return res, fmt.Errorf("redis hgetall: %w", err)
	}
	for identity, raw := range lockouts {
		until, err := parseUnixNano(raw)
		if err != nil || !now.Before(until) {
			if err := r.client.HDel(ctx, r.lockoutsKey(), identity).Err(); err != nil {
				return res, fmt.Errorf("redis hdel: %w", err)
			}
			res.LockoutsExpired++
		}
	}

	return res, nil
}

// GetLockout returns the identity's stored unlock instant
func (r *RedisAttemptStore) GetLockout(ctx context.Context, identity string) (time.Time, bool, error) {
	raw, err := r.client.HGet(ctx, r.lockoutsKey(), identity).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis hget: %w", err)
	}

	until, err := parseUnixNano(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}

// SetLockout stores the identity's unlock instant
func (r *RedisAttemptStore) SetLockout(ctx context.Context, identity string, until time.Time) error {
	if err := r.client.HSet(ctx, r.lockoutsKey(), identity, until.UnixNano()).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// ClearLockout removes the identity's lockout
func (r *RedisAttemptStore) ClearLockout(ctx context.Context, identity string) error {
	if err := r.client.HDel(ctx, r.lockoutsKey(), identity).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// CountLockouts counts lockouts still active at now
func (r *RedisAttemptStore) CountLockouts(ctx context.Context, now time.Time) (int, error) {
	lockouts, err := r.client.HGetAll(ctx, r.lockoutsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hgetall: %w", err)
	}

	count := 0
	for _, raw := range lockouts {
		if until, err := parseUnixNano(raw); err == nil && now.Before(until) {
			count++
		}
	}
	return count, nil
}

// Reset deletes every key owned by the store
func (r *RedisAttemptStore) Reset(ctx context.Context) error {
	identities, err := r.client.SMembers(ctx, r.identitiesKey()).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}
	networks, err := r.client.SMembers(ctx, r.networksKey()).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}

	keys := []string{r.identitiesKey(), r.networksKey(), r.lockoutsKey(), r.sequenceKey()}
	for _, identity := range identities {
		keys = append(keys, r.attemptsKey(identity))
	}
	for _, ip := range networks {
		keys = append(keys, r.networkKey(ip))
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func parseUnixNano(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lockout instant: %w", err)
	}
	return time.Unix(0, n), nil
}

var _ AttemptStore = (*RedisAttemptStore)(nil)
