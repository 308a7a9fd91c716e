package api

import (
	"github.com/gin-gonic/gin"

	apperrors "sudooom.cardgame.client/internal/errors"
)

type deckRequest struct {
	DeckID uint64 `json:"deck_id"`
}

type listQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ListGames 大厅列表
// GET /api/v1/games
func (h *Handler) ListGames(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	games, err := h.lobby.ListOpenGames(c.Request.Context(), q.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"list": games})
}

// CreateGame 创建对局
// POST /api/v1/games
func (h *Handler) CreateGame(c *gin.Context) {
	var req deckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	gameID, err := h.lobby.CreateGame(c.Request.Context(), req.DeckID)
	if err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"game_id": gameID})
}

// JoinGame 加入对局
// POST /api/v1/games/:id/join
func (h *Handler) JoinGame(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	var req deckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	if err := h.lobby.JoinGame(c.Request.Context(), gameID, req.DeckID); err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"game_id": gameID})
}

// StartGame 开始对局
// POST /api/v1/games/:id/start
func (h *Handler) StartGame(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}

	if err := h.lobby.StartGame(c.Request.Context(), gameID); err != nil {
		h.fail(c, err)
		return
	}
	Success(c, gin.H{"game_id": gameID})
}

// WatchLobby 开始大厅轮询
// POST /api/v1/games/:id/lobby/watch
func (h *Handler) WatchLobby(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}

	h.poller.Start(h.baseCtx, gameID, h.controller.Generation())
	Success(c, gin.H{"game_id": gameID, "watching": true})
}

// UnwatchLobby 停止大厅轮询
// DELETE /api/v1/games/:id/lobby/watch
func (h *Handler) UnwatchLobby(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}

	if watching, on := h.poller.Watching(); on && watching == gameID {
		h.poller.Stop()
	}
	Success(c, gin.H{"game_id": gameID, "watching": false})
}
