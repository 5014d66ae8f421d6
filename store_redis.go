// File: store_redis.go

package charon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// upsertScript performs the lock check, conditional write, and shared-TTL
// recompute as one Lua script run server-side, so the whole sequence is
// atomic from Redis's point of view across all three keys.
//
// KEYS: 1=sessions hash, 2=expiration zset, 3=lock hash
// ARGV: 1=session id, 2=sealed session blob, 3=refresh_expires_at,
//
//	4=new lock_version, 5=now
//
// Returns: 1 on write, 0 on already-expired no-op, error "CONFLICT" on a
// lock mismatch.
var upsertScript = redis.NewScript(`
local sid, blob, rexp, newver, now = ARGV[1], ARGV[2], tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])

local cur = redis.call('HGET', KEYS[3], sid)
if cur and tonumber(cur) ~= newver - 1 then
	return redis.error_reply('CONFLICT')
end

if rexp < now then
	return 0
end

redis.call('HSET', KEYS[1], sid, blob)
redis.call('ZADD', KEYS[2], rexp, sid)
redis.call('HSET', KEYS[3], sid, newver)

local top = redis.call('ZREVRANGE', KEYS[2], 0, 0, 'WITHSCORES')
if top[2] then
	local newTTL = (tonumber(top[2]) - now) * 1000
	local curTTL = redis.call('PTTL', KEYS[1])
	if curTTL and curTTL > newTTL then
		newTTL = curTTL
	end
	if newTTL > 0 then
		redis.call('PEXPIRE', KEYS[1], newTTL)
		redis.call('PEXPIRE', KEYS[2], newTTL)
		redis.call('PEXPIRE', KEYS[3], newTTL)
	end
end

return 1
`)

// deleteScript removes sid from all three collections and recomputes the
// shared TTL from the remaining maximum score, or drops the keys entirely
// when the set becomes empty.
var deleteScript = redis.NewScript(`
local sid, now = ARGV[1], tonumber(ARGV[2])

redis.call('HDEL', KEYS[1], sid)
redis.call('ZREM', KEYS[2], sid)
redis.call('HDEL', KEYS[3], sid)

local top = redis.call('ZREVRANGE', KEYS[2], 0, 0, 'WITHSCORES')
if top[2] then
	local newTTL = (tonumber(top[2]) - now) * 1000
	if newTTL > 0 then
		redis.call('PEXPIRE', KEYS[1], newTTL)
		redis.call('PEXPIRE', KEYS[2], newTTL)
		redis.call('PEXPIRE', KEYS[3], newTTL)
	end
else
	redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
end

return 1
`)

// RedisSessionStore implements SessionStore over github.com/redis/go-redis/v9:
// the per-user session map as a hash, the expiration ordered set as a
// sorted set, and the lock map as a hash.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
	atRestKey KeyGetter
	logger    Logger
}

// NewRedisSessionStore builds a RedisSessionStore, pinging the client once
// up front so a misconfigured connection fails at construction rather than
// on the first request.
func NewRedisSessionStore(client *redis.Client, keyPrefix string, atRestKey KeyGetter, logger Logger) (*RedisSessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("charon: store: redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = defaultLogger
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("charon: store: redis connection failed: %w", err)
	}

	return &RedisSessionStore{client: client, keyPrefix: keyPrefix, atRestKey: atRestKey, logger: logger}, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID, userID, sessionType string) (*Session, error) {
	sessionsKey, _, _, _ := storeKeys(s.keyPrefix, userID, sessionType)

	blob, err := s.client.HGet(ctx, sessionsKey, sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("charon: store: get: %w", err)
	}

	key, err := s.atRestKey()
	if err != nil {
		return nil, fmt.Errorf("charon: store: resolve at-rest key: %w", err)
	}

	sess, ok := OpenSession(key, []byte(blob), userID, sessionType, s.logger)
	if !ok {
		return nil, nil
	}
	if sess.expired(nowUnix()) {
		return nil, nil
	}
	return sess, nil
}

func (s *RedisSessionStore) Upsert(ctx context.Context, session *Session) error {
	sessionsKey, expKey, lockKey, _ := storeKeys(s.keyPrefix, session.UserID, session.Type)

	key, err := s.atRestKey()
	if err != nil {
		return fmt.Errorf("charon: store: resolve at-rest key: %w", err)
	}

	blob, err := SealSession(key, session)
	if err != nil {
		return err
	}

	now := nowUnix()
	res, err := upsertScript.Run(ctx, s.client,
		[]string{sessionsKey, expKey, lockKey},
		session.ID, blob, session.RefreshExpiresAt, session.LockVersion, now,
	).Result()
	if err != nil {
		if err.Error() == "CONFLICT" {
			return ErrConflict
		}
		return fmt.Errorf("charon: store: upsert: %w", err)
	}
	_ = res

	go s.pruneOpportunistic(session.UserID, session.Type)
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID, userID, sessionType string) error {
	sessionsKey, expKey, lockKey, _ := storeKeys(s.keyPrefix, userID, sessionType)
	_, err := deleteScript.Run(ctx, s.client, []string{sessionsKey, expKey, lockKey}, sessionID, nowUnix()).Result()
	if err != nil {
		return fmt.Errorf("charon: store: delete: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) GetAll(ctx context.Context, userID, sessionType string) ([]*Session, error) {
	sessionsKey, _, _, _ := storeKeys(s.keyPrefix, userID, sessionType)

	blobs, err := s.client.HGetAll(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("charon: store: get_all: %w", err)
	}

	key, err := s.atRestKey()
	if err != nil {
		return nil, fmt.Errorf("charon: store: resolve at-rest key: %w", err)
	}

	now := nowUnix()
	sessions := make([]*Session, 0, len(blobs))
	for _, blob := range blobs {
		sess, ok := OpenSession(key, []byte(blob), userID, sessionType, s.logger)
		if !ok || sess.expired(now) {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *RedisSessionStore) DeleteAll(ctx context.Context, userID, sessionType string) error {
	sessionsKey, expKey, lockKey, pruneKey := storeKeys(s.keyPrefix, userID, sessionType)
	if err := s.client.Del(ctx, sessionsKey, expKey, lockKey, pruneKey).Err(); err != nil {
		return fmt.Errorf("charon: store: delete_all: %w", err)
	}
	return nil
}

// pruneOpportunistic is invoked from Upsert: best-effort, guarded by a
// prune lock with PruneCooldown, and a no-op ("skipped") while the
// cooldown is active. Errors are logged, never propagated; this is
// secondary housekeeping, not part of the request's success/failure path.
func (s *RedisSessionStore) pruneOpportunistic(userID, sessionType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionsKey, expKey, lockKey, pruneKey := storeKeys(s.keyPrefix, userID, sessionType)

	acquired, err := s.client.SetNX(ctx, pruneKey, "1", PruneCooldown).Result()
	if err != nil {
		s.logger.Errorf("charon: store: prune lock: %v", err)
		return
	}
	if !acquired {
		return // skipped: cooldown active
	}

	now := nowUnix()
	stale, err := s.client.ZRangeByScore(ctx, expKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now-1, 10),
	}).Result()
	if err != nil {
		s.logger.Errorf("charon: store: prune scan: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, sessionsKey, stale...)
	pipe.ZRem(ctx, expKey, toInterfaceSlice(stale)...)
	pipe.HDel(ctx, lockKey, stale...)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Errorf("charon: store: prune exec: %v", err)
	}
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func nowUnix() int64 { return time.Now().Unix() }
