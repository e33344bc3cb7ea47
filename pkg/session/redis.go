package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "kinobot:session:"
	stagingKeyPrefix = "kinobot:staging:"
	maxUpdateRetries = 8
	redisOpTimeout   = 3 * time.Second
)

var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, userID)
}

func stagingKey(operatorID int64) string {
	return fmt.Sprintf("%s%d", stagingKeyPrefix, operatorID)
}

// RedisStore keeps sessions in Redis so several bot replicas share them.
// Every write refreshes the TTL; an expired session reads as Idle.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return readSession(ctx, s.client, userID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readSession(ctx context.Context, c getter, userID int64) (Session, error) {
	raw, err := c.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(userID), nil
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	sess.UserID = userID
	if sess.Mode == "" {
		sess.Mode = ModeIdle
	}
	return sess, nil
}

// Update applies fn under WATCH, retrying when another event for the same
// user wrote in between.
func (s *RedisStore) Update(ctx context.Context, userID int64, fn func(*Session) error) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	key := sessionKey(userID)
	for i := 0; i < maxUpdateRetries; i++ {
		var result Session
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := readSession(ctx, tx, userID)
			if err != nil {
				return err
			}
			if err := fn(&current); err != nil {
				return err
			}
			current.UserID = userID
			current.UpdatedAt = time.Now().UTC()
			payload, err := json.Marshal(current)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			result = current
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		return result, nil
	}
	return Session{}, ErrConflict
}

func (s *RedisStore) Reset(ctx context.Context, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// RedisStaging keeps the operator staging slot in Redis.
type RedisStaging struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStaging(client *redis.Client, ttl time.Duration) *RedisStaging {
	return &RedisStaging{client: client, ttl: ttl}
}

func (s *RedisStaging) Stage(ctx context.Context, operatorID int64, mediaRef string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return s.client.Set(ctx, stagingKey(operatorID), mediaRef, s.ttl).Err()
}

func (s *RedisStaging) Peek(ctx context.Context, operatorID int64) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	val, err := s.client.Get(ctx, stagingKey(operatorID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStaging) Consume(ctx context.Context, operatorID int64, expectedRef string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	n, err := consumeScript.Run(ctx, s.client, []string{stagingKey(operatorID)}, expectedRef).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
