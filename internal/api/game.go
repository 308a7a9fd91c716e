package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sudooom.cardgame.client/internal/dnd"
	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/legality"
	"sudooom.cardgame.client/internal/lobby"
	"sudooom.cardgame.client/internal/model"
	"sudooom.cardgame.client/internal/reconcile"
)

type mountRequest struct {
	JustStarted bool `json:"just_started"`
}

// Mount 进入对局页面并载入
// POST /api/v1/games/:id/mount
func (h *Handler) Mount(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	var req mountRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
			return
		}
	}

	// 大厅开局后留下的标记只消费一次
	justStarted := h.lobby.ConsumeJustStarted(c.Request.Context(), gameID) || req.JustStarted

	out := h.controller.Mount(c.Request.Context(), gameID, justStarted)
	h.outcome(c, out)
}

// Retry 重新载入
// POST /api/v1/games/:id/retry
func (h *Handler) Retry(c *gin.Context) {
	if _, ok := gameIDParam(c); !ok {
		return
	}

	out, err := h.controller.Retry(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.outcome(c, out)
}

func (h *Handler) outcome(c *gin.Context, out reconcile.Outcome) {
	if out.Route == reconcile.RouteError && out.Err != nil {
		ErrorWithData(c, out.Err, gin.H{"route": out.Route, "state": h.controller.State()})
		return
	}

	data := gin.H{
		"route":   out.Route,
		"session": out.Session,
		"state":   h.controller.State(),
		"stale":   out.Stale,
	}
	if out.Warning != nil {
		data["warning"] = apperrors.GetMessage(out.Warning)
	}
	Success(c, data)
}

// Unmount 离开对局页面，同时停止该对局的大厅轮询
// DELETE /api/v1/games/:id/mount
func (h *Handler) Unmount(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	if watching, on := h.poller.Watching(); on && watching == gameID {
		h.poller.Stop()
	}
	h.controller.Unmount()
	h.bridge.Cancel()
	Success(c, gin.H{"state": h.controller.State()})
}

// Refresh 手动刷新链上状态
// POST /api/v1/games/:id/refresh
func (h *Handler) Refresh(c *gin.Context) {
	if _, ok := h.mounted(c); !ok {
		return
	}
	if err := h.controller.Refresh(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"view": h.store.View(), "revision": h.store.Revision()})
}

// View 当前对局镜像
// GET /api/v1/games/:id/view
func (h *Handler) View(c *gin.Context) {
	if _, ok := h.mounted(c); !ok {
		return
	}

	view := h.store.View()
	Success(c, gin.H{
		"view":     view,
		"state":    h.controller.State(),
		"lobby":    lobby.Describe(view, h.store.LocalAccount()),
		"revision": h.store.Revision(),
	})
}

// Legality 每张牌的可出状态
// GET /api/v1/games/:id/legality?seat=player1
func (h *Handler) Legality(c *gin.Context) {
	if _, ok := h.mounted(c); !ok {
		return
	}

	view := h.store.View()
	seat := view.Viewing
	if s := c.Query("seat"); s != "" {
		parsed, err := model.ParseSeat(s)
		if err != nil {
			ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
			return
		}
		seat = parsed
	}
	Success(c, gin.H{"seat": seat, "cards": legality.Annotate(view, seat)})
}

type dragStartRequest struct {
	CardID string `json:"card_id" binding:"required"`
	Source string `json:"source"`
	Owner  string `json:"owner"`
}

type dragEndRequest struct {
	DragID string `json:"drag_id" binding:"required"`
	Target string `json:"target"` // 形如 player1-board；为空表示在区域外松手
}

// DragStart 开始拖拽
// POST /api/v1/games/:id/drag/start
func (h *Handler) DragStart(c *gin.Context) {
	if _, ok := h.mounted(c); !ok {
		return
	}
	var req dragStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	source := model.ZoneHand
	if req.Source != "" {
		z, err := model.ParseZone(req.Source)
		if err != nil {
			ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
			return
		}
		source = z
	}
	owner := h.store.View().Viewing
	if req.Owner != "" {
		s, err := model.ParseSeat(req.Owner)
		if err != nil {
			ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
			return
		}
		owner = s
	}

	h.dragMu.Lock()
	h.dragID = uuid.NewString()
	dragID := h.dragID
	h.bridge.DragStart(req.CardID, source, owner)
	h.dragMu.Unlock()

	Success(c, gin.H{"drag_id": dragID})
}

// DragEnd 结束拖拽
// POST /api/v1/games/:id/drag/end
func (h *Handler) DragEnd(c *gin.Context) {
	if _, ok := h.mounted(c); !ok {
		return
	}
	var req dragEndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	h.dragMu.Lock()
	if req.DragID != h.dragID {
		h.dragMu.Unlock()
		ErrorWithMsg(c, apperrors.CodeInvalidParams, "unknown drag session")
		return
	}
	h.dragID = ""
	h.dragMu.Unlock()

	target, err := dnd.ParseDropTarget(req.Target)
	if err != nil {
		h.bridge.Cancel()
		Success(c, dnd.Result{Outcome: dnd.OutcomeIgnored, HandIndex: -1})
		return
	}

	res, err := h.bridge.DragEnd(c.Request.Context(), target)
	if err != nil {
		h.failWithData(c, err, res)
		return
	}
	Success(c, res)
}

type ethRequest struct {
	CardID string `json:"card_id" binding:"required"`
	Amount uint64 `json:"amount" binding:"required,gt=0"`
}

// Stake 向 DeFi 卡质押
// POST /api/v1/games/:id/stake
func (h *Handler) Stake(c *gin.Context) {
	h.ethAction(c, h.bridge.Stake)
}

// Deposit 向钱包卡存入
// POST /api/v1/games/:id/deposit
func (h *Handler) Deposit(c *gin.Context) {
	h.ethAction(c, h.bridge.Deposit)
}

func (h *Handler) ethAction(c *gin.Context, action func(ctx context.Context, cardID string, amount uint64) error) {
	if _, ok := h.mounted(c); !ok {
		return
	}
	var req ethRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	if err := action(c.Request.Context(), req.CardID, req.Amount); err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"view": h.store.View()})
}
