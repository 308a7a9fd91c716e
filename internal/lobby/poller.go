package lobby

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.cardgame.client/internal/decoder"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/model"
	"sudooom.cardgame.client/internal/store"
)

// DefaultPollInterval 默认轮询间隔
const DefaultPollInterval = 2000 * time.Millisecond

// StartedFunc 对局开始后的交接回调，token 原样带回 Start 时传入的值
type StartedFunc func(gameID, token uint64)

// Poller 大厅轮询器
// 对局未开始时定期拉取摘要，开始后停止并交给状态同步控制器
type Poller struct {
	reader    ledger.Reader
	store     *store.Store
	layout    decoder.Layout
	interval  time.Duration
	timeout   time.Duration
	onStarted StartedFunc
	logger    *slog.Logger

	mu     sync.Mutex
	gameID uint64
	token  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller 创建大厅轮询器
func NewPoller(reader ledger.Reader, st *store.Store, layouts *decoder.Layouts, interval, timeout time.Duration, logger *slog.Logger, onStarted StartedFunc) *Poller {
	// 设置默认值
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = interval
	}
	if layouts == nil {
		layouts = decoder.DefaultLayouts()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		reader:    reader,
		store:     st,
		layout:    layouts.MustGet(decoder.LayoutSummary),
		interval:  interval,
		timeout:   timeout,
		onStarted: onStarted,
		logger:    logger,
	}
}

// Start 开始轮询指定对局，已有轮询会先被停止
// token 由调用方决定，交接时用于判断发起方是否仍然有效
func (p *Poller) Start(ctx context.Context, gameID, token uint64) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.gameID = gameID
	p.token = token
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx, gameID, p.done)
}

// Stop 停止轮询并等待循环退出，返回后不会再写入 store
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Watching 当前轮询的对局
func (p *Poller) Watching() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gameID, p.cancel != nil
}

func (p *Poller) run(ctx context.Context, gameID uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Lobby poller started", "gameId", gameID, "interval", p.interval)

	// 立即拉取一次
	if p.tick(ctx, gameID) {
		p.handOff(gameID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Lobby poller stopped", "gameId", gameID)
			return
		case <-ticker.C:
			if p.tick(ctx, gameID) {
				p.handOff(gameID)
				return
			}
		}
	}
}

// tick 单次轮询，失败只记录日志，下一次继续；返回对局是否已开始
func (p *Poller) tick(ctx context.Context, gameID uint64) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rec, err := p.reader.FetchSummary(fetchCtx, gameID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Lobby poll failed", "gameId", gameID, "error", err)
		}
		return false
	}

	session, err := decoder.Decode(rec, p.layout)
	if err != nil {
		p.logger.Warn("Lobby poll decode failed", "gameId", gameID, "error", err)
		return false
	}

	// 已停止的轮询不再写入
	if ctx.Err() != nil {
		return false
	}
	if _, err := p.store.ApplySession(session); err != nil {
		p.logger.Warn("Lobby poll merge failed", "gameId", gameID, "error", err)
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	p.logger.Debug("Lobby poll", "gameId", gameID, "status", session.Status)
	return session.Status.HasStarted()
}

// handOff 只有仍持有本次轮询时才交接，Stop 或新的 Start 已接管时直接返回
func (p *Poller) handOff(gameID uint64) {
	p.mu.Lock()
	if p.gameID != gameID || p.cancel == nil {
		p.mu.Unlock()
		p.logger.Debug("Poller stopped before hand-off", "gameId", gameID)
		return
	}
	token := p.token
	p.cancel()
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	p.logger.Info("Game started, handing off", "gameId", gameID)
	if p.onStarted != nil {
		p.onStarted(gameID, token)
	}
}

// Status 当前大厅展示所需信息
type Status struct {
	Session model.GameSession `json:"session"`
	IsHost  bool              `json:"is_host"`
	CanJoin bool              `json:"can_join"`
}

// Describe 根据本地镜像生成大厅信息
func Describe(view model.GameView, account model.Address) Status {
	s := view.Session
	_, seated := s.SeatOf(account)
	return Status{
		Session: s,
		IsHost:  s.IsHost(account),
		CanJoin: !seated && s.Status == model.StatusWaitingForPlayers && !account.IsZero(),
	}
}
