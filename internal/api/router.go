package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// SetupRouter 设置路由
func SetupRouter(mode string, h *Handler, logger *slog.Logger) *gin.Engine {
	// 设置 Gin 模式
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", h.Health)

		// 大厅
		v1.GET("/games", h.ListGames)
		v1.POST("/games", h.CreateGame)

		game := v1.Group("/games/:id")
		{
			game.POST("/join", h.JoinGame)
			game.POST("/start", h.StartGame)
			game.POST("/lobby/watch", h.WatchLobby)
			game.DELETE("/lobby/watch", h.UnwatchLobby)

			// 对局页面
			game.POST("/mount", h.Mount)
			game.DELETE("/mount", h.Unmount)
			game.POST("/retry", h.Retry)
			game.POST("/refresh", h.Refresh)
			game.GET("/view", h.View)
			game.GET("/legality", h.Legality)

			// 拖拽与 DeFi 操作
			game.POST("/drag/start", h.DragStart)
			game.POST("/drag/end", h.DragEnd)
			game.POST("/stake", h.Stake)
			game.POST("/deposit", h.Deposit)
		}
	}

	return r
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"clientIp", c.ClientIP(),
		)
	}
}
