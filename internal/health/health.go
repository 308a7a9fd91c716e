package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.cardgame.client/internal/ledger"
)

const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

const checkTimeout = 2 * time.Second

// Status 健康状态，未配置的依赖不输出
type Status struct {
	Ledger   string `json:"ledger"`
	NATS     string `json:"nats,omitempty"`
	Redis    string `json:"redis,omitempty"`
	Database string `json:"database,omitempty"`
}

// Healthy 所有已配置的依赖都已连接
func (s *Status) Healthy() bool {
	for _, v := range []string{s.Ledger, s.NATS, s.Redis, s.Database} {
		if v == StateDisconnected {
			return false
		}
	}
	return true
}

// Checker 健康检查器
type Checker struct {
	ledger      ledger.Directory
	nc          *nats.Conn
	redisClient *redis.Client
	db          *pgxpool.Pool
}

// NewChecker 创建健康检查器，nc、redisClient、db 可以为 nil
func NewChecker(directory ledger.Directory, nc *nats.Conn, redisClient *redis.Client, db *pgxpool.Pool) *Checker {
	return &Checker{
		ledger:      directory,
		nc:          nc,
		redisClient: redisClient,
		db:          db,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{}

	// 检查账本（与对局页面的连接探测相同）
	status.Ledger = probe(ctx, func(ctx context.Context) error {
		_, err := h.ledger.NextGameID(ctx)
		return err
	})

	// 检查 NATS
	if h.nc != nil {
		if h.nc.IsConnected() {
			status.NATS = StateConnected
		} else {
			status.NATS = StateDisconnected
		}
	}

	// 检查 Redis
	if h.redisClient != nil {
		status.Redis = probe(ctx, func(ctx context.Context) error {
			return h.redisClient.Ping(ctx).Err()
		})
	}

	// 检查 PostgreSQL
	if h.db != nil {
		status.Database = probe(ctx, h.db.Ping)
	}

	return status
}

func probe(ctx context.Context, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := ping(ctx); err != nil {
		return StateDisconnected
	}
	return StateConnected
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy()
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
