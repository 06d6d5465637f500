package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when a revocation targets a hash that is not in the index.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionStale is returned when a rotation loses the compare-and-swap on the old hash.
var ErrSessionStale = errors.New("session stale")

// ErrSnapshotMiss is returned when no cached principal snapshot exists.
var ErrSnapshotMiss = errors.New("session snapshot miss")

// ErrResetInProgress is returned when another security reset holds the principal lock.
var ErrResetInProgress = errors.New("security reset in progress")

const saveScript = `
local now = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now)
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
if ARGV[5] ~= "" then
  redis.call("SET", KEYS[2], ARGV[5], "PX", ARGV[4])
end
return redis.call("ZCARD", KEYS[1])
`

var saveLua = redis.NewScript(saveScript)

const rotateScript = `
local now = tonumber(ARGV[3])
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
if tonumber(score) <= now then
  return 0
end
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now)
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`

var rotateLua = redis.NewScript(rotateScript)

const removeOthersScript = `
local now = tonumber(ARGV[2])
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score or tonumber(score) <= now then
  return -1
end
local total = redis.call("ZCARD", KEYS[1])
redis.call("DEL", KEYS[1])
redis.call("ZADD", KEYS[1], score, ARGV[1])
redis.call("PEXPIREAT", KEYS[1], score)
return total - 1
`

var removeOthersLua = redis.NewScript(removeOthersScript)

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// Store is the ephemeral session index. Keys are namespaced by role so
// principals of different kinds never collide.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a [Store] over redis using prefix as key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "cs"
	}
	return &Store{
		redis:  redis,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) indexKey(role, principalID string) string {
	return s.prefix + ":idx:" + role + ":" + principalID
}

func (s *Store) snapshotKey(role, principalID string) string {
	return s.prefix + ":snap:" + role + ":" + principalID
}

func (s *Store) resetKey(role, principalID string) string {
	return s.prefix + ":rst:" + role + ":" + principalID
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Save adds hash to the principal's index with the given ttl and, when
// snapshot is non-empty, caches it with the same ttl. Expired members are
// pruned on the way. It returns the number of live members after the add.
func (s *Store) Save(ctx context.Context, role, principalID, hash string, snapshot []byte, ttl time.Duration) (int64, error) {
	if hash == "" || ttl <= 0 {
		return 0, errors.New("session: empty hash or non-positive ttl")
	}
	now := s.now()
	n, err := saveLua.Run(ctx, s.redis,
		[]string{s.indexKey(role, principalID), s.snapshotKey(role, principalID)},
		hash, millis(now.Add(ttl)), millis(now), strconv.FormatInt(ttl.Milliseconds(), 10), string(snapshot),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// IsActive reports whether hash is a live member of the principal's index.
//
//	Performance: 1 Redis ZSCORE.
func (s *Store) IsActive(ctx context.Context, role, principalID, hash string) (bool, error) {
	score, err := s.redis.ZScore(ctx, s.indexKey(role, principalID), hash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int64(score) > s.now().UnixMilli(), nil
}

// Rotate atomically replaces oldHash with newHash. If oldHash is absent or
// expired it returns [ErrSessionStale] and adds nothing.
func (s *Store) Rotate(ctx context.Context, role, principalID, oldHash, newHash string, ttl time.Duration) error {
	now := s.now()
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.indexKey(role, principalID)},
		oldHash, newHash, millis(now), millis(now.Add(ttl)), strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res != 1 {
		return ErrSessionStale
	}
	return nil
}

// Remove deletes exactly one hash. Zero removed entries yield [ErrSessionNotFound].
func (s *Store) Remove(ctx context.Context, role, principalID, hash string) error {
	n, err := s.redis.ZRem(ctx, s.indexKey(role, principalID), hash).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RemoveOthers drops every member except currentHash, which keeps its expiry.
// currentHash must itself be live, otherwise nothing is deleted and
// [ErrSessionNotFound] is returned. It returns the number of removed members.
func (s *Store) RemoveOthers(ctx context.Context, role, principalID, currentHash string) (int64, error) {
	n, err := removeOthersLua.Run(ctx, s.redis,
		[]string{s.indexKey(role, principalID)},
		currentHash, millis(s.now()),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, ErrSessionNotFound
	}
	return n, nil
}

// Reset deletes the index and the cached snapshot.
func (s *Store) Reset(ctx context.Context, role, principalID string) error {
	err := s.redis.Del(ctx, s.indexKey(role, principalID), s.snapshotKey(role, principalID)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Active lists the live hashes of the principal.
func (s *Store) Active(ctx context.Context, role, principalID string) ([]string, error) {
	hashes, err := s.redis.ZRangeByScore(ctx, s.indexKey(role, principalID), &redis.ZRangeBy{
		Min: "(" + millis(s.now()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return hashes, nil
}

// CacheSnapshot stores a serialized principal snapshot.
func (s *Store) CacheSnapshot(ctx context.Context, role, principalID string, snapshot []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.snapshotKey(role, principalID), snapshot, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Snapshot returns the cached snapshot or [ErrSnapshotMiss].
func (s *Store) Snapshot(ctx context.Context, role, principalID string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.snapshotKey(role, principalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return data, nil
}

// InvalidateSnapshot drops the cached snapshot so the next read reloads it.
func (s *Store) InvalidateSnapshot(ctx context.Context, role, principalID string) error {
	if err := s.redis.Del(ctx, s.snapshotKey(role, principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AcquireResetLock takes the per-principal reset lock for ttl. The returned
// release func only deletes the lock it acquired.
func (s *Store) AcquireResetLock(ctx context.Context, role, principalID string, ttl time.Duration) (func(context.Context), error) {
	key := s.resetKey(role, principalID)
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return nil, ErrResetInProgress
	}
	return func(ctx context.Context) {
		_ = releaseLockLua.Run(ctx, s.redis, []string{key}, token).Err()
	}, nil
}
