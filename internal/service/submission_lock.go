package service

import (
	"context"
	"fmt"
	"teacher_scenario_backend/internal/util"
	"teacher_scenario_backend/pkg/logger"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const defaultLockRetryInterval = 200 * time.Millisecond

// RedisSubmissionLocker 同一教师对同一场景的提交串行化
type RedisSubmissionLocker struct {
	client        redis.Cmdable
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
}

// NewRedisSubmissionLocker wait 为锁被占用时的最长等待时间，0 表示不等待
func NewRedisSubmissionLocker(client redis.Cmdable, ttl, wait time.Duration) *RedisSubmissionLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if wait < 0 {
		wait = 0
	}
	return &RedisSubmissionLocker{client: client, ttl: ttl, wait: wait, retryInterval: defaultLockRetryInterval}
}

func submissionLockKey(teacherID uint, scenarioID string) string {
	return fmt.Sprintf("scenario:submit:%d:%s", teacherID, scenarioID)
}

// Acquire 在等待时间内反复尝试，仍被占用时返回 util.ErrSubmissionInFlight
func (l *RedisSubmissionLocker) Acquire(ctx context.Context, teacherID uint, scenarioID string) (func(), error) {
	key := submissionLockKey(teacherID, scenarioID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire submission lock: %w", err)
		}
		if ok {
			return l.releaser(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, util.ErrSubmissionInFlight
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisSubmissionLocker) releaser(key, token string) func() {
	return func() {
		// 请求 ctx 可能已取消，释放时不使用
		if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil {
			logger.Log.Warn("Failed to release submission lock", zap.String("key", key), zap.Error(err))
		}
	}
}

type NopSubmissionLocker struct{}

func (NopSubmissionLocker) Acquire(context.Context, uint, string) (func(), error) {
	return func() {}, nil
}
