package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token types recorded in the ledger. TypeFamily marks a whole-family revocation keyed by familyId.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	TypeFamily  = "family"
)

// ErrRedisUnavailable wraps every store failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrInvalidRecord is returned for records without an id or with an expiry in the past.
var ErrInvalidRecord = errors.New("invalid ledger record")

// Record is one invalidated identifier.
type Record struct {
	JTI        string
	ExpiryTime time.Time
	TokenType  string
	FamilyID   string
}

const invalidateScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "type", ARGV[2], "fid", ARGV[3], "exp", ARGV[4])
redis.call("PEXPIREAT", KEYS[1], ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
if ARGV[3] ~= "" and ARGV[2] ~= "family" then
  redis.call("HSET", KEYS[3], ARGV[1], ARGV[3])
end
return 1
`

var invalidateLua = redis.NewScript(invalidateScript)

// Ledger is the Redis-backed invalidation ledger.
type Ledger struct {
	redis  redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Ledger {
	return &Ledger{redis: rdb, prefix: prefix}
}

// Key is the record key for an identifier (jti or familyId).
func (l *Ledger) Key(id string) string {
	return l.prefix + ":inv:" + id
}

// IndexKey is the zset of identifiers scored by expiry in unix milliseconds.
func (l *Ledger) IndexKey() string {
	return l.prefix + ":inv:idx"
}

// FamilyRefKey is the hash mapping token jti to its familyId.
func (l *Ledger) FamilyRefKey() string {
	return l.prefix + ":inv:fam"
}

// Invalidate writes rec once. It reports false without error when the identifier is already present.
func (l *Ledger) Invalidate(ctx context.Context, rec Record) (bool, error) {
	if rec.JTI == "" || rec.TokenType == "" || !rec.ExpiryTime.After(time.Now()) {
		return false, ErrInvalidRecord
	}

	expMs := rec.ExpiryTime.UnixMilli()
	res, err := invalidateLua.Run(
		ctx,
		l.redis,
		[]string{l.Key(rec.JTI), l.IndexKey(), l.FamilyRefKey()},
		rec.JTI,
		rec.TokenType,
		rec.FamilyID,
		expMs,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// IsInvalidated reports whether any of ids has a live record.
func (l *Ledger) IsInvalidated(ctx context.Context, ids ...string) (bool, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, l.Key(id))
		}
	}
	if len(keys) == 0 {
		return false, nil
	}

	n, err := l.redis.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Get returns the record for id, or redis.Nil when absent.
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	vals, err := l.redis.HGetAll(ctx, l.Key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, redis.Nil
	}

	expMs, err := strconv.ParseInt(vals["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt ledger record %s: %w", id, err)
	}
	return &Record{
		JTI:        id,
		ExpiryTime: time.UnixMilli(expMs),
		TokenType:  vals["type"],
		FamilyID:   vals["fid"],
	}, nil
}

// Expired lists up to limit identifiers whose expiry is at or before now.
func (l *Ledger) Expired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := l.redis.ZRangeByScore(ctx, l.IndexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// FamilyRefs returns one HSCAN page of jti→familyId references.
func (l *Ledger) FamilyRefs(ctx context.Context, cursor uint64, count int64) (map[string]string, uint64, error) {
	kv, next, err := l.redis.HScan(ctx, l.FamilyRefKey(), cursor, "", count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	refs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		refs[kv[i]] = kv[i+1]
	}
	return refs, next, nil
}

// Remove deletes the record and its index entries. Removing an absent id is not an error.
func (l *Ledger) Remove(ctx context.Context, id string) error {
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.Key(id))
		pipe.ZRem(ctx, l.IndexKey(), id)
		pipe.HDel(ctx, l.FamilyRefKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}
