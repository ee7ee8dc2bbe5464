package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript は加算とウィンドウ開始（初回のみPEXPIRE）を1往復でアトミックに行う。
// 戻り値は {count, 残りTTL(ms)}。
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore はRedisを使用した共有バケットストア。
// 複数プロセス間でカウンタを共有する場合に使う。
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "ratelimit:",
	}
}

// Increment はkeyのバケットを加算する。ウィンドウはキーのTTLで表現する。
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	vals, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, windowMs).Int64Slice()
	if err != nil {
		return Bucket{}, fmt.Errorf("failed to increment rate limit bucket: %w", err)
	}
	if len(vals) != 2 {
		return Bucket{}, fmt.Errorf("unexpected rate limit script result: %v", vals)
	}

	remaining := time.Duration(vals[1]) * time.Millisecond
	return Bucket{
		Count:       vals[0],
		WindowStart: now.Add(remaining - window),
	}, nil
}

var _ Store = (*RedisStore)(nil)
