package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/sessionguard/ledger"
)

// ErrRedisUnavailable wraps every Redis failure returned by the store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrFamilyNotFound is returned when no family exists for the id.
var ErrFamilyNotFound = errors.New("session family not found")

// ErrFamilyExists is returned by Create when the family id is already taken.
var ErrFamilyExists = errors.New("session family already exists")

// ErrFamilyCorrupt is returned when a stored family hash cannot be decoded.
var ErrFamilyCorrupt = errors.New("session family corrupt")

// Rotation outcomes. Each maps to one status code of the rotate script.
var (
	ErrTokenInvalidated    = errors.New("refresh token already invalidated")
	ErrFamilyCompromised   = errors.New("session family compromised")
	ErrFamilyExpired       = errors.New("session family expired")
	ErrSuspiciousRotation  = errors.New("suspicious rotation activity")
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
)

const (
	rotateStatusRotated     int64 = 0
	rotateStatusInvalidated int64 = 1
	rotateStatusNotFound    int64 = 2
	rotateStatusCompromised int64 = 3
	rotateStatusExpired     int64 = 4
	rotateStatusSuspicious  int64 = 5
	rotateStatusMismatch    int64 = 6
)

const createFamilyScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 5))
redis.call("PEXPIREAT", KEYS[1], ARGV[4])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[1])
return 1
`

var createFamilyLua = redis.NewScript(createFamilyScript)

const deleteFamilyScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
local existed = redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
if uid then
  redis.call("SREM", ARGV[2] .. uid, ARGV[1])
end
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("ZREM", KEYS[4], ARGV[1])
redis.call("SREM", KEYS[5], ARGV[1])
return existed
`

var deleteFamilyLua = redis.NewScript(deleteFamilyScript)

const rotateFamilyScript = `
local fam_key = KEYS[1]
local rot_key = KEYS[2]
local active_idx = KEYS[3]
local compromised_key = KEYS[4]
local inv_jti = KEYS[5]
local inv_fid = KEYS[6]
local inv_idx = KEYS[7]
local inv_fam = KEYS[8]

local fid = ARGV[1]
local uid = ARGV[2]
local jti = ARGV[3]
local fp = ARGV[4]
local now = tonumber(ARGV[5])
local max_rotations = tonumber(ARGV[8])
local inv_exp = ARGV[9]

if redis.call("EXISTS", inv_jti) == 1 or redis.call("EXISTS", inv_fid) == 1 then
  if redis.call("HGET", fam_key, "reuse") == "1" then
    return {3}
  end
  return {1}
end

local state = redis.call("HMGET", fam_key, "uid", "reuse", "valid_until", "fp")
if not state[1] or state[1] ~= uid then
  return {2}
end

if state[2] == "1" then
  return {3}
end

if tonumber(state[3]) < now then
  return {4}
end

local function flag_reuse()
  redis.call("HSET", fam_key, "reuse", "1", "updated_at", ARGV[5])
  redis.call("SADD", compromised_key, fid)
  redis.call("HSET", inv_fid, "type", "family", "fid", fid, "exp", ARGV[10])
  redis.call("PEXPIREAT", inv_fid, ARGV[10])
  redis.call("ZADD", inv_idx, ARGV[10], fid)
end

redis.call("ZREMRANGEBYSCORE", rot_key, "-inf", "(" .. ARGV[6])
if redis.call("ZCARD", rot_key) >= max_rotations then
  flag_reuse()
  return {5}
end

if state[4] ~= fp then
  flag_reuse()
  return {6}
end

redis.call("HSET", fam_key, "last_rotation", ARGV[5], "dev_last_active", ARGV[5], "updated_at", ARGV[5])
local count = redis.call("HINCRBY", fam_key, "rotations", 1)
redis.call("ZADD", rot_key, ARGV[5], jti)
redis.call("PEXPIRE", rot_key, ARGV[7])
redis.call("ZADD", active_idx, ARGV[5], fid)

redis.call("HSET", inv_jti, "type", "refresh", "fid", fid, "exp", inv_exp)
redis.call("PEXPIREAT", inv_jti, inv_exp)
redis.call("ZADD", inv_idx, inv_exp, jti)
redis.call("HSET", inv_fam, jti, fid)

return {0, count}
`

var rotateFamilyLua = redis.NewScript(rotateFamilyScript)

// Store is the Redis-backed session family store.
//
// Family hashes expire at ValidUntil plus retention so that an expired family
// can still be told apart from an unknown one for a while.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	ledger    *ledger.Ledger
}

// NewStore creates a family [Store]. inv supplies the ledger keys written by
// Rotate and must share the same Redis deployment.
func NewStore(rdb redis.UniversalClient, prefix string, retention time.Duration, inv *ledger.Ledger) *Store {
	return &Store{
		redis:     rdb,
		prefix:    prefix,
		retention: retention,
		ledger:    inv,
	}
}

func (s *Store) key(familyID string) string {
	return s.prefix + ":fam:" + familyID
}

func (s *Store) rotationsKey(familyID string) string {
	return s.prefix + ":fam:rot:" + familyID
}

func (s *Store) userPrefix() string {
	return s.prefix + ":user:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

func (s *Store) validIndexKey() string {
	return s.prefix + ":fam:idx:valid"
}

func (s *Store) activeIndexKey() string {
	return s.prefix + ":fam:idx:active"
}

func (s *Store) compromisedKey() string {
	return s.prefix + ":fam:idx:compromised"
}

// Create persists a new family together with its user and expiry indexes.
func (s *Store) Create(ctx context.Context, f *Family) error {
	if f == nil || f.FamilyID == "" || f.UserID == "" {
		return errors.New("session family requires family and user id")
	}

	validUntil := f.ValidUntil.UnixMilli()
	lastActive := f.Device.LastActive.UnixMilli()
	expireAt := f.ValidUntil.Add(s.retention).UnixMilli()

	args := []interface{}{f.FamilyID, validUntil, lastActive, expireAt}
	args = append(args, encodeFields(f)...)

	created, err := createFamilyLua.Run(
		ctx,
		s.redis,
		[]string{s.key(f.FamilyID), s.userKey(f.UserID), s.validIndexKey(), s.activeIndexKey()},
		args...,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	if created == 0 {
		return ErrFamilyExists
	}
	return nil
}

// Get loads a family by id.
func (s *Store) Get(ctx context.Context, familyID string) (*Family, error) {
	vals, err := s.redis.HGetAll(ctx, s.key(familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, ErrFamilyNotFound
	}
	return decodeFields(familyID, vals)
}

// Exists reports whether a family hash is present.
func (s *Store) Exists(ctx context.Context, familyID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// UserFamilyIDs returns the family ids indexed for a user. The index may
// briefly contain ids whose hash already expired.
func (s *Store) UserFamilyIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ListByUser loads every live family of a user. Stale index entries are
// pruned as a side effect.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Family, error) {
	ids, err := s.UserFamilyIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Family{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	families := make([]*Family, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		}
		if len(vals) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		f, err := decodeFields(ids[i], vals)
		if err != nil {
			return nil, err
		}
		families = append(families, f)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		}
	}
	return families, nil
}

// Delete removes a family and every index entry pointing at it. It reports
// whether the family hash existed; deleting twice is not an error.
func (s *Store) Delete(ctx context.Context, familyID string) (bool, error) {
	existed, err := deleteFamilyLua.Run(
		ctx,
		s.redis,
		[]string{
			s.key(familyID),
			s.rotationsKey(familyID),
			s.validIndexKey(),
			s.activeIndexKey(),
			s.compromisedKey(),
		},
		familyID,
		s.userPrefix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// ExpiredIDs lists up to limit families whose ValidUntil is at or before now.
func (s *Store) ExpiredIDs(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return s.rangeBefore(ctx, s.validIndexKey(), now, limit)
}

// InactiveIDs lists up to limit families last active at or before cutoff.
func (s *Store) InactiveIDs(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	return s.rangeBefore(ctx, s.activeIndexKey(), cutoff, limit)
}

func (s *Store) rangeBefore(ctx context.Context, key string, t time.Time, limit int64) ([]string, error) {
	ids, err := s.redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(t.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// CompromisedIDs lists families flagged with reuse detection.
func (s *Store) CompromisedIDs(ctx context.Context) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.compromisedKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// RotateInput carries everything the rotate script checks and writes.
type RotateInput struct {
	FamilyID        string
	UserID          string
	TokenID         string
	FingerprintHash string
	Now             time.Time

	// LedgerExpiry is when the ledger entry for TokenID may be purged.
	LedgerExpiry time.Time

	// FamilyLedgerExpiry is when the family-level ledger entry written on a
	// compromise may be purged. Zero falls back to LedgerExpiry.
	FamilyLedgerExpiry time.Time

	// Window and MaxRotations bound rotation velocity. An attempt made when
	// MaxRotations rotations already happened within Window is suspicious.
	Window       time.Duration
	MaxRotations int
}

// Rotate atomically validates the family for the presented refresh token,
// records the rotation and invalidates TokenID. It returns the family's
// rotation count after the update.
//
// Failures map to ErrTokenInvalidated, ErrFamilyNotFound,
// ErrFamilyCompromised, ErrFamilyExpired, ErrSuspiciousRotation and
// ErrFingerprintMismatch. The last two permanently flag the family and put
// its id on the ledger, which rejects every token of the family from then on.
// A flagged family keeps reporting ErrFamilyCompromised.
func (s *Store) Rotate(ctx context.Context, in RotateInput) (int64, error) {
	if in.FamilyID == "" || in.TokenID == "" || in.UserID == "" {
		return 0, ErrFamilyNotFound
	}
	familyExpiry := in.FamilyLedgerExpiry
	if familyExpiry.IsZero() {
		familyExpiry = in.LedgerExpiry
	}

	now := in.Now.UnixMilli()
	raw, err := rotateFamilyLua.Run(
		ctx,
		s.redis,
		[]string{
			s.key(in.FamilyID),
			s.rotationsKey(in.FamilyID),
			s.activeIndexKey(),
			s.compromisedKey(),
			s.ledger.Key(in.TokenID),
			s.ledger.Key(in.FamilyID),
			s.ledger.IndexKey(),
			s.ledger.FamilyRefKey(),
		},
		in.FamilyID,
		in.UserID,
		in.TokenID,
		in.FingerprintHash,
		now,
		now-in.Window.Milliseconds(),
		in.Window.Milliseconds(),
		in.MaxRotations,
		in.LedgerExpiry.UnixMilli(),
		familyExpiry.UnixMilli(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	arr, ok := raw.([]interface{})
	if !ok || len(arr) == 0 {
		return 0, fmt.Errorf("%w: unexpected rotate result", ErrRedisUnavailable)
	}
	status, ok := arr[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected rotate status", ErrRedisUnavailable)
	}

	switch status {
	case rotateStatusRotated:
		if len(arr) < 2 {
			return 0, fmt.Errorf("%w: missing rotation count", ErrRedisUnavailable)
		}
		count, _ := arr[1].(int64)
		return count, nil
	case rotateStatusInvalidated:
		return 0, ErrTokenInvalidated
	case rotateStatusNotFound:
		return 0, ErrFamilyNotFound
	case rotateStatusCompromised:
		return 0, ErrFamilyCompromised
	case rotateStatusExpired:
		return 0, ErrFamilyExpired
	case rotateStatusSuspicious:
		return 0, ErrSuspiciousRotation
	case rotateStatusMismatch:
		return 0, ErrFingerprintMismatch
	default:
		return 0, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, status)
	}
}

// Ping checks connectivity to the backing Redis.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func encodeFields(f *Family) []interface{} {
	reuse := "0"
	if f.ReuseDetected {
		reuse = "1"
	}
	return []interface{}{
		fieldUserID, f.UserID,
		fieldRole, f.Role,
		fieldFingerprint, f.FingerprintHash,
		fieldValidUntil, f.ValidUntil.UnixMilli(),
		fieldLastRotation, f.LastRotation.UnixMilli(),
		fieldReuse, reuse,
		fieldCreatedAt, f.CreatedAt.UnixMilli(),
		fieldUpdatedAt, f.UpdatedAt.UnixMilli(),
		fieldDeviceID, f.Device.DeviceID,
		fieldLastActive, f.Device.LastActive.UnixMilli(),
		fieldDeviceName, f.Device.DeviceName,
		fieldDeviceType, f.Device.DeviceType,
		fieldDeviceBrowser, f.Device.BrowserInfo,
		fieldDeviceOS, f.Device.OSInfo,
		fieldRotations, f.RotationCount,
	}
}

func decodeFields(familyID string, vals map[string]string) (*Family, error) {
	var decodeErr error
	ms := func(field string) time.Time {
		v, err := strconv.ParseInt(vals[field], 10, 64)
		if err != nil {
			decodeErr = errors.Join(decodeErr, fmt.Errorf("%s: %w", field, err))
			return time.Time{}
		}
		return time.UnixMilli(v)
	}

	f := &Family{
		FamilyID:        familyID,
		UserID:          vals[fieldUserID],
		Role:            vals[fieldRole],
		FingerprintHash: vals[fieldFingerprint],
		ValidUntil:      ms(fieldValidUntil),
		LastRotation:    ms(fieldLastRotation),
		ReuseDetected:   vals[fieldReuse] == "1",
		CreatedAt:       ms(fieldCreatedAt),
		UpdatedAt:       ms(fieldUpdatedAt),
		Device: Device{
			DeviceID:    vals[fieldDeviceID],
			LastActive:  ms(fieldLastActive),
			DeviceName:  vals[fieldDeviceName],
			DeviceType:  vals[fieldDeviceType],
			BrowserInfo: vals[fieldDeviceBrowser],
			OSInfo:      vals[fieldDeviceOS],
		},
	}
	if raw := vals[fieldRotations]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			decodeErr = errors.Join(decodeErr, fmt.Errorf("%s: %w", fieldRotations, err))
		}
		f.RotationCount = n
	}

	if f.UserID == "" {
		decodeErr = errors.Join(decodeErr, errors.New("missing user id"))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFamilyCorrupt, familyID, decodeErr)
	}
	return f, nil
}
