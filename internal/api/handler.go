package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"sudooom.cardgame.client/internal/dnd"
	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/health"
	"sudooom.cardgame.client/internal/lobby"
	"sudooom.cardgame.client/internal/reconcile"
	"sudooom.cardgame.client/internal/store"
)

// Deps 处理器依赖
type Deps struct {
	Controller *reconcile.Controller
	Store      *store.Store
	Lobby      *lobby.Service
	Poller     *lobby.Poller
	Bridge     *dnd.Bridge
	Health     *health.Checker
	Logger     *slog.Logger
}

// Handler 本地 HTTP 桥接处理器，供界面调用
type Handler struct {
	controller *reconcile.Controller
	store      *store.Store
	lobby      *lobby.Service
	poller     *lobby.Poller
	bridge     *dnd.Bridge
	health     *health.Checker
	logger     *slog.Logger

	// 大厅轮询的生命周期跟随进程而不是单个请求
	baseCtx context.Context

	dragMu sync.Mutex
	dragID string
}

// NewHandler 创建处理器
func NewHandler(ctx context.Context, deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		controller: deps.Controller,
		store:      deps.Store,
		lobby:      deps.Lobby,
		poller:     deps.Poller,
		bridge:     deps.Bridge,
		health:     deps.Health,
		logger:     logger,
		baseCtx:    ctx,
	}
}

// Health 健康检查
// GET /api/v1/health
func (h *Handler) Health(c *gin.Context) {
	status := h.health.Check(c.Request.Context())
	if !status.Healthy() {
		Unavailable(c, status)
		return
	}
	Success(c, status)
}

// gameIDParam 解析路径中的对局 ID
func gameIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		ErrorWithMsg(c, apperrors.CodeInvalidParams, "invalid game id")
		return 0, false
	}
	return id, true
}

// mounted 校验对局页面当前载入的是该对局
func (h *Handler) mounted(c *gin.Context) (uint64, bool) {
	id, ok := gameIDParam(c)
	if !ok {
		return 0, false
	}
	if current, has := h.store.GameID(); !has || current != id {
		ErrorWithMsg(c, apperrors.CodeNotFound, fmt.Sprintf("Game #%d is not loaded", id))
		return 0, false
	}
	return id, true
}

// fail 统一错误输出
func (h *Handler) fail(c *gin.Context, err error) {
	h.failWithData(c, err, nil)
}

func (h *Handler) failWithData(c *gin.Context, err error, data interface{}) {
	switch {
	case errors.Is(err, store.ErrNoGame),
		errors.Is(err, store.ErrGameMismatch),
		errors.Is(err, store.ErrNotActivated),
		errors.Is(err, store.ErrNotSeated),
		errors.Is(err, reconcile.ErrNotActive):
		ErrorWithData(c, apperrors.ErrIllegalAction.WithMessage(err.Error()), data)
	default:
		ErrorWithData(c, apperrors.Classify(err), data)
	}
}
