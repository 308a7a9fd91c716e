package reconcile

import (
	"fmt"
	"time"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/model"
)

// 默认时间参数
const (
	DefaultLoadTimeout = 5000 * time.Millisecond
	DefaultStartGrace  = 2000 * time.Millisecond
)

// Phase 同步状态机阶段
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseActive
	PhaseError
)

var phaseNames = [...]string{"idle", "loading", "active", "error"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// MarshalText 以名称形式输出到 JSON
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Route 载入完成后界面应跳转的位置
type Route uint8

const (
	RouteNone Route = iota
	RouteActive
	RouteLobby
	RouteError
)

var routeNames = [...]string{"none", "active", "lobby", "error"}

func (r Route) String() string {
	if int(r) < len(routeNames) {
		return routeNames[r]
	}
	return fmt.Sprintf("route(%d)", uint8(r))
}

// MarshalText 以名称形式输出到 JSON
func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// State 同步状态，只由 Controller 写入
type State struct {
	Phase        Phase               `json:"phase"`
	LastError    *apperrors.AppError `json:"-"`
	ActiveGameID uint64              `json:"active_game_id"`
	HasGame      bool                `json:"has_game"`
}

// Config 时间参数
type Config struct {
	LoadTimeout time.Duration
	StartGrace  time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.StartGrace <= 0 {
		c.StartGrace = DefaultStartGrace
	}
	return c
}

// Outcome 一次载入的结果
type Outcome struct {
	Route   Route
	Session model.GameSession
	Err     *apperrors.AppError // Route 为 RouteError 时的错误
	Warning error               // 完整状态拉取失败，不影响阶段
	Stale   bool                // 结果已过期被丢弃
}

// ticket 发起请求时捕获的身份，完成时与当前身份比对
type ticket struct {
	gen    uint64
	gameID uint64
}
