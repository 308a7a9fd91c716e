package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.cardgame.client/internal/api"
	"sudooom.cardgame.client/internal/config"
	"sudooom.cardgame.client/internal/decoder"
	"sudooom.cardgame.client/internal/dnd"
	"sudooom.cardgame.client/internal/health"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/ledger/evm"
	"sudooom.cardgame.client/internal/ledger/natsgw"
	"sudooom.cardgame.client/internal/ledger/pgindex"
	"sudooom.cardgame.client/internal/lobby"
	"sudooom.cardgame.client/internal/model"
	cardNats "sudooom.cardgame.client/internal/nats"
	"sudooom.cardgame.client/internal/navstate"
	"sudooom.cardgame.client/internal/reconcile"
	"sudooom.cardgame.client/internal/store"
)

func main() {
	// 初始化日志
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// 加载配置
	configPath := os.Getenv("CARDCLIENT_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.App.LogLevel)); err != nil {
		logger.Warn("Unknown log level, using info", "logLevel", cfg.App.LogLevel)
	}

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	layouts := decoder.DefaultLayouts()
	if cfg.Decoder.LayoutsFile != "" {
		layouts, err = decoder.LoadLayouts(cfg.Decoder.LayoutsFile)
		if err != nil {
			logger.Error("Failed to load record layouts", "error", err, "path", cfg.Decoder.LayoutsFile)
			os.Exit(1)
		}
	}

	// 连接账本
	var (
		client     ledger.Client
		natsClient *cardNats.Client
		db         *pgxpool.Pool
	)
	switch cfg.Ledger.Backend {
	case config.BackendEVM:
		evmClient, closeRPC, err := evm.Dial(ctx, cfg.Ledger, cfg.App.Account, logger)
		if err != nil {
			logger.Error("Failed to connect to JSON-RPC node", "error", err)
			os.Exit(1)
		}
		defer closeRPC()
		client = evmClient
		logger.Info("Connected to JSON-RPC node", "url", cfg.Ledger.RPCURL, "contract", cfg.Ledger.Contract)

	case config.BackendNATS:
		natsClient, err = cardNats.NewClient(cfg.NATS, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		client = natsgw.New(natsClient, cfg.NATS.SubjectPrefix, logger)
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	// 读取走索引库
	if cfg.Ledger.Reader == config.ReaderPostgres {
		db, err = connectDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		index := pgindex.NewReader(db)
		client = ledger.Split{Reader: index, Writer: client, Directory: index}
		logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)
	}

	// 刚开局标记：有 Redis 时跨进程保存
	var flags navstate.Flags = navstate.NewMemoryFlags(navstate.DefaultTTL)
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = connectRedis(cfg.Redis)
		defer redisClient.Close()
		flags = navstate.NewRedisFlags(redisClient, cfg.App.Account, navstate.DefaultTTL, logger)
		logger.Info("Connected to Redis", "host", cfg.Redis.Host)
	}

	// 初始化组件
	st := store.New(client,
		store.WithLogger(logger),
		store.WithLocalAccount(model.Address(cfg.App.Account)),
	)

	var (
		poller     *lobby.Poller
		controller *reconcile.Controller
	)
	opts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithRouteFunc(func(gameID uint64, route reconcile.Route) {
			if route == reconcile.RouteLobby {
				poller.Start(ctx, gameID, controller.Generation())
				return
			}
			if watching, on := poller.Watching(); on && watching != gameID {
				poller.Stop()
			}
		}),
	}
	if cfg.Reconcile.ProbeLedger {
		opts = append(opts, reconcile.WithProbe(client))
	}
	controller = reconcile.NewController(client, st, layouts, reconcile.Config{
		LoadTimeout: cfg.Reconcile.LoadTimeout,
		StartGrace:  cfg.Reconcile.StartGrace,
	}, opts...)

	// 轮询发现开局后重新载入对局页面，期间已离开页面则放弃
	poller = lobby.NewPoller(client, st, layouts, cfg.Reconcile.PollInterval, cfg.Reconcile.LoadTimeout, logger,
		func(gameID, gen uint64) {
			go controller.Handoff(ctx, gameID, gen)
		})

	var nc *nats.Conn
	if natsClient != nil {
		nc = natsClient.Conn()
	}
	handler := api.NewHandler(ctx, api.Deps{
		Controller: controller,
		Store:      st,
		Lobby:      lobby.NewService(client, client, flags, logger),
		Poller:     poller,
		Bridge:     dnd.NewBridge(st, logger),
		Health:     health.NewChecker(client, nc, redisClient, db),
		Logger:     logger,
	})

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.SetupRouter(cfg.HTTP.Mode, handler, logger),
	}
	go func() {
		logger.Info("HTTP server started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("Card game client started", "name", cfg.App.Name, "account", cfg.App.Account, "backend", cfg.Ledger.Backend)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	poller.Stop()
	controller.Unmount()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	cancel()
	logger.Info("Card game client stopped")
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
