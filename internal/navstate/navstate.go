package navstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// JustStartedKeyPrefix 刚开局标记 Redis Key 前缀
	JustStartedKeyPrefix = "cardgame:nav:started:"

	// DefaultTTL 标记有效期，超时未消费即失效
	DefaultTTL = 2 * time.Minute
)

// BuildJustStartedKey 构建刚开局标记 Key
// Key: cardgame:nav:started:{account}:{gameId}
func BuildJustStartedKey(account string, gameID uint64) string {
	return fmt.Sprintf("%s%s:%d", JustStartedKeyPrefix, account, gameID)
}

// Flags 页面跳转之间传递的一次性标记
type Flags interface {
	// MarkStarted 记录"刚提交开局"
	MarkStarted(ctx context.Context, gameID uint64) error
	// ConsumeStarted 读取并清除标记
	ConsumeStarted(ctx context.Context, gameID uint64) (bool, error)
}

// RedisFlags 基于 Redis 的一次性标记，跨进程的页面跳转也能读到
type RedisFlags struct {
	client  *redis.Client
	account string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewRedisFlags 创建 Redis 标记存储
func NewRedisFlags(client *redis.Client, account string, ttl time.Duration, logger *slog.Logger) *RedisFlags {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFlags{client: client, account: account, ttl: ttl, logger: logger}
}

// MarkStarted 写入标记并设置过期时间
func (f *RedisFlags) MarkStarted(ctx context.Context, gameID uint64) error {
	key := BuildJustStartedKey(f.account, gameID)
	if err := f.client.Set(ctx, key, 1, f.ttl).Err(); err != nil {
		f.logger.Error("Failed to mark game started", "error", err, "gameId", gameID)
		return fmt.Errorf("mark started: %w", err)
	}
	return nil
}

// ConsumeStarted 原子地读取并删除标记
func (f *RedisFlags) ConsumeStarted(ctx context.Context, gameID uint64) (bool, error) {
	key := BuildJustStartedKey(f.account, gameID)
	err := f.client.GetDel(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		f.logger.Warn("Failed to consume started flag", "error", err, "gameId", gameID)
		return false, fmt.Errorf("consume started: %w", err)
	}
	return true, nil
}

// MemoryFlags 进程内标记，未配置 Redis 时使用
type MemoryFlags struct {
	mu      sync.Mutex
	started map[uint64]time.Time
	ttl     time.Duration
}

// NewMemoryFlags 创建进程内标记存储
func NewMemoryFlags(ttl time.Duration) *MemoryFlags {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFlags{started: make(map[uint64]time.Time), ttl: ttl}
}

// MarkStarted 记录标记
func (f *MemoryFlags) MarkStarted(_ context.Context, gameID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[gameID] = time.Now().Add(f.ttl)
	return nil
}

// ConsumeStarted 读取并删除标记
func (f *MemoryFlags) ConsumeStarted(_ context.Context, gameID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expires, ok := f.started[gameID]
	delete(f.started, gameID)
	return ok && time.Now().Before(expires), nil
}
