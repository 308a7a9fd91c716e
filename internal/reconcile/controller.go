package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sudooom.cardgame.client/internal/decoder"
	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/model"
	"sudooom.cardgame.client/internal/store"
)

// ErrNotActive 只有进行中的对局才能刷新
var ErrNotActive = errors.New("NOT_ACTIVE")

// RouteFunc 路由回调
type RouteFunc func(gameID uint64, route Route)

// Controller 链上状态同步状态机
// 拉取 → 解码 → 合并 → 按状态分支，所有完成回调都校验身份
type Controller struct {
	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc

	reader  ledger.Reader
	probe   ledger.Directory
	store   *store.Store
	summary decoder.Layout
	raw     decoder.Layout
	cfg     Config
	onRoute RouteFunc
	logger  *slog.Logger
}

// Option 构造选项
type Option func(*Controller)

// WithProbe 载入前先探测合约连通性
func WithProbe(dir ledger.Directory) Option {
	return func(c *Controller) {
		c.probe = dir
	}
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRouteFunc 设置路由回调
func WithRouteFunc(fn RouteFunc) Option {
	return func(c *Controller) {
		c.onRoute = fn
	}
}

// NewController 创建状态同步控制器，并挂到 store 的提交回调上做出牌后刷新
func NewController(reader ledger.Reader, st *store.Store, layouts *decoder.Layouts, cfg Config, opts ...Option) *Controller {
	if layouts == nil {
		layouts = decoder.DefaultLayouts()
	}
	c := &Controller{
		reader:  reader,
		store:   st,
		summary: layouts.MustGet(decoder.LayoutSummary),
		raw:     layouts.MustGet(decoder.LayoutRaw),
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	st.OnSubmitted(c.refreshAfterSubmit)
	return c
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mount 进入对局页面，开始载入
// justStarted 表示调用方刚刚提交了开局交易
func (c *Controller) Mount(ctx context.Context, gameID uint64, justStarted bool) Outcome {
	c.mu.Lock()
	loadCtx, t := c.beginLocked(ctx, gameID)
	c.mu.Unlock()
	defer c.release(t)

	return c.load(loadCtx, t, justStarted)
}

// Handoff 大厅轮询发现对局开始后接手载入
// gen 是轮询开始时的代数，之后页面卸载或重新载入过则放弃
func (c *Controller) Handoff(ctx context.Context, gameID, gen uint64) Outcome {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale hand-off", "gameId", gameID, "gen", gen)
		return Outcome{Stale: true}
	}
	loadCtx, t := c.beginLocked(ctx, gameID)
	c.mu.Unlock()
	defer c.release(t)

	return c.load(loadCtx, t, false)
}

// Generation 当前代数，每次载入和卸载都会递增
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) load(loadCtx context.Context, t ticket, justStarted bool) Outcome {
	gameID := t.gameID
	c.logger.Info("Loading game", "gameId", gameID, "justStarted", justStarted)

	// 探测与摘要共用一个超时
	initCtx, cancel := context.WithTimeout(loadCtx, c.cfg.LoadTimeout)
	defer cancel()

	// 1. 探测合约连通性
	if c.probe != nil {
		if _, err := race(initCtx, c.cfg.LoadTimeout, c.probe.NextGameID); err != nil {
			if !apperrors.Is(err, apperrors.ErrTimeout) {
				err = ledger.ErrUnreachable.WithMessage("Cannot connect to the game contract").Wrap(err)
			}
			return c.fail(t, err)
		}
	}

	// 2. 拉取摘要
	session, err := c.fetchSession(initCtx, gameID, c.summary, c.reader.FetchSummary)
	if err != nil {
		return c.fail(t, err)
	}
	if err := c.commit(t, func() error { return c.merge(session, nil) }); err != nil {
		return c.discardOrFail(t, err)
	}

	if !session.Status.HasStarted() {
		if !justStarted {
			return c.toLobby(t, session)
		}

		// 3. 刚提交开局：等待交易落块后，用原始元组重试一次
		c.logger.Info("Game not started yet, waiting for start transaction", "gameId", gameID, "grace", c.cfg.StartGrace)
		if err := sleep(loadCtx, c.cfg.StartGrace); err != nil {
			return c.fail(t, err)
		}

		session, err = c.fetchSession(loadCtx, gameID, c.raw, c.reader.FetchRaw)
		if err != nil {
			return c.fail(t, err)
		}
		if err := c.commit(t, func() error { return c.merge(session, nil) }); err != nil {
			return c.discardOrFail(t, err)
		}
		if !session.Status.HasStarted() {
			c.logger.Info("Game still not started after retry", "gameId", gameID)
			return c.toLobby(t, session)
		}
	}

	// 4. 激活对局
	if err := c.commit(t, func() error {
		if err := c.store.Activate(); err != nil {
			return err
		}
		c.state.Phase = PhaseActive
		return nil
	}); err != nil {
		return c.discardOrFail(t, err)
	}
	c.notify(gameID, RouteActive)
	c.logger.Info("Game active", "gameId", gameID, "status", session.Status)

	// 5. 拉取完整状态，不改变阶段
	out := Outcome{Route: RouteActive, Session: session}
	full, err := race(loadCtx, c.cfg.LoadTimeout, func(ctx context.Context) (*model.FullState, error) {
		return c.reader.FetchFull(ctx, gameID)
	})
	if err != nil {
		if !c.isCurrent(t) {
			out.Stale = true
			return out
		}
		c.logger.Warn("Failed to load full game state", "gameId", gameID, "error", err)
		out.Warning = apperrors.Classify(err)
		return out
	}
	if err := c.commit(t, func() error { return c.merge(model.GameSession{}, full) }); err != nil {
		if errors.Is(err, errStale) {
			out.Stale = true
			return out
		}
		c.logger.Warn("Failed to merge full game state", "gameId", gameID, "error", err)
		out.Warning = err
	}
	return out
}

// Retry 重新载入当前对局（用户主动重试）
func (c *Controller) Retry(ctx context.Context) (Outcome, error) {
	st := c.State()
	if !st.HasGame {
		return Outcome{}, store.ErrNoGame
	}
	return c.Mount(ctx, st.ActiveGameID, false), nil
}

// Unmount 离开对局页面，进行中的请求结果将被丢弃
func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.state = State{Phase: PhaseIdle}
}

// Refresh 出牌等操作后重新拉取并合并，不改变阶段
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	st, gen := c.state, c.gen
	c.mu.Unlock()

	if st.Phase != PhaseActive {
		return ErrNotActive
	}
	t := ticket{gen: gen, gameID: st.ActiveGameID}

	var (
		session model.GameSession
		full    *model.FullState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		session, err = c.fetchSession(gctx, t.gameID, c.summary, c.reader.FetchSummary)
		return err
	})
	g.Go(func() error {
		var err error
		full, err = race(gctx, c.cfg.LoadTimeout, func(ctx context.Context) (*model.FullState, error) {
			return c.reader.FetchFull(ctx, t.gameID)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return apperrors.Classify(err)
	}

	err := c.commit(t, func() error { return c.merge(session, full) })
	if errors.Is(err, errStale) {
		c.logger.Debug("Discarding stale refresh", "gameId", t.gameID)
		return nil
	}
	return err
}

func (c *Controller) refreshAfterSubmit(ctx context.Context, gameID uint64) {
	if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrNotActive) {
		c.logger.Warn("Post-action refresh failed", "gameId", gameID, "error", err)
	}
}

func (c *Controller) beginLocked(ctx context.Context, gameID uint64) (context.Context, ticket) {
	if c.cancel != nil {
		c.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	c.state = State{Phase: PhaseLoading, ActiveGameID: gameID, HasGame: true}
	c.store.Reset(gameID)
	return loadCtx, ticket{gen: c.gen, gameID: gameID}
}

// release 载入结束后释放本次 context
func (c *Controller) release(t ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isCurrentLocked(t) && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

var errStale = errors.New("stale completion")

// commit 在身份一致时执行写入
func (c *Controller) commit(t ticket, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(t) {
		return errStale
	}
	return fn()
}

func (c *Controller) isCurrent(t ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCurrentLocked(t)
}

func (c *Controller) isCurrentLocked(t ticket) bool {
	return c.gen == t.gen && c.state.HasGame && c.state.ActiveGameID == t.gameID
}

func (c *Controller) merge(session model.GameSession, full *model.FullState) error {
	if session.ID != 0 {
		if _, err := c.store.ApplySession(session); err != nil {
			return err
		}
	}
	if full != nil {
		if _, err := c.store.ApplyFull(full); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) fetchSession(ctx context.Context, gameID uint64, layout decoder.Layout, fetch func(context.Context, uint64) (ledger.Record, error)) (model.GameSession, error) {
	rec, err := race(ctx, c.cfg.LoadTimeout, func(ctx context.Context) (ledger.Record, error) {
		return fetch(ctx, gameID)
	})
	if err != nil {
		return model.GameSession{}, err
	}
	if rec == nil {
		return model.GameSession{}, ledger.ErrGameNotFound
	}

	session, err := decoder.Decode(rec, layout)
	if err != nil {
		return model.GameSession{}, err
	}
	// 不存在的对局在 mapping 中读出来是全零记录
	if session.Player1.IsZero() {
		return model.GameSession{}, ledger.ErrGameNotFound
	}
	if session.ID != gameID {
		return model.GameSession{}, apperrors.ErrDecode.Wrap(fmt.Errorf("record for game %d returned for game %d", session.ID, gameID))
	}
	return session, nil
}

func (c *Controller) toLobby(t ticket, session model.GameSession) Outcome {
	err := c.commit(t, func() error {
		c.state.Phase = PhaseIdle
		return nil
	})
	if err != nil {
		return Outcome{Stale: true}
	}
	c.logger.Info("Game not started, routing to lobby", "gameId", t.gameID, "status", session.Status)
	c.notify(t.gameID, RouteLobby)
	return Outcome{Route: RouteLobby, Session: session}
}

func (c *Controller) discardOrFail(t ticket, err error) Outcome {
	if errors.Is(err, errStale) {
		c.logger.Debug("Discarding stale completion", "gameId", t.gameID)
		return Outcome{Stale: true}
	}
	return c.fail(t, err)
}

func (c *Controller) fail(t ticket, err error) Outcome {
	appErr := displayError(t.gameID, apperrors.Classify(err))

	c.mu.Lock()
	if !c.isCurrentLocked(t) {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale failure", "gameId", t.gameID, "error", err)
		return Outcome{Stale: true}
	}
	c.state.Phase = PhaseError
	c.state.LastError = appErr
	c.mu.Unlock()

	c.logger.Error("Failed to load game", "gameId", t.gameID, "code", appErr.Code, "error", err)
	c.notify(t.gameID, RouteError)
	return Outcome{Route: RouteError, Err: appErr}
}

func (c *Controller) notify(gameID uint64, route Route) {
	if c.onRoute != nil {
		c.onRoute(gameID, route)
	}
}

// displayError 按错误类型生成界面文案
func displayError(gameID uint64, err *apperrors.AppError) *apperrors.AppError {
	switch err.Code {
	case apperrors.CodeTimeout:
		return err.WithMessage("Connection timed out. Please check your ledger connection.")
	case apperrors.CodeNotFound:
		return err.WithMessage(fmt.Sprintf("Game #%d not found.", gameID))
	case apperrors.CodeUnknown:
		if err.Err != nil {
			return err.WithMessage("Failed to load game: " + err.Err.Error())
		}
	}
	return err
}

// race 在超时前等待 fn 返回；fn 忽略 ctx 时同样按时返回超时
func race[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, apperrors.ErrTimeout.Wrap(fmt.Errorf("no response within %s", timeout))
		}
		return zero, ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
