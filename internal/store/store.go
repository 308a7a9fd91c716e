package store

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/model"
)

var (
	// ErrNoGame 尚未载入任何对局
	ErrNoGame = errors.New("NO_GAME")

	// ErrGameMismatch 快照属于其他对局
	ErrGameMismatch = errors.New("GAME_MISMATCH")

	// ErrNotActivated 对局尚未激活，不能出牌
	ErrNotActivated = errors.New("GAME_NOT_ACTIVATED")

	// ErrNotSeated 本地账户不是对局玩家，只能观看
	ErrNotSeated = errors.New("NOT_SEATED")
)

// Submitter 链上操作提交通道
type Submitter interface {
	SubmitPlayCard(ctx context.Context, gameID uint64, handIndex int) error
	SubmitStake(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error
	SubmitDeposit(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error
}

// SubmitHook 提交成功后的回调（通常用于刷新链上状态）
type SubmitHook func(ctx context.Context, gameID uint64)

// Option 构造选项
type Option func(*Store)

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithLocalAccount 设置本地钱包地址，用于推导视角座位
func WithLocalAccount(addr model.Address) Option {
	return func(s *Store) {
		s.account = addr
	}
}

// Store 本地对局镜像
// 进程内唯一实例，由调用方显式创建并注入各组件
type Store struct {
	mu       sync.RWMutex
	view     model.GameView
	hasGame  bool
	account  model.Address
	revision uint64

	submitter Submitter
	hooks     []SubmitHook
	logger    *slog.Logger
}

// New 创建本地对局镜像
func New(submitter Submitter, opts ...Option) *Store {
	s := &Store{
		submitter: submitter,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnSubmitted 注册提交成功回调
func (s *Store) OnSubmitted(hook SubmitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// SetLocalAccount 更新本地钱包地址
func (s *Store) SetLocalAccount(addr model.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = addr
	s.updateLocked(func(v *model.GameView) { v.Viewing, v.Seated = s.viewingSeatLocked(v.Session) })
}

// LocalAccount 本地钱包地址
func (s *Store) LocalAccount() model.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// Reset 切换到新对局并清空旧状态，相同对局不做处理
func (s *Store) Reset(gameID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasGame && s.view.Session.ID == gameID {
		return
	}
	s.view = model.GameView{Session: model.GameSession{ID: gameID}}
	s.hasGame = true
	s.revision++
	s.logger.Debug("Store reset", "gameId", gameID)
}

// ApplySession 合并对局摘要
// 状态只能前进，比当前状态更旧的快照整体丢弃
func (s *Store) ApplySession(session model.GameSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasGame {
		s.view = model.GameView{Session: model.GameSession{ID: session.ID}}
		s.hasGame = true
		s.revision++
	}
	if session.ID != s.view.Session.ID {
		return false, ErrGameMismatch
	}

	if session.Status < s.view.Session.Status {
		s.logger.Debug("Ignoring stale snapshot",
			"gameId", session.ID,
			"current", s.view.Session.Status,
			"incoming", session.Status)
		return false, nil
	}

	changed := s.updateLocked(func(v *model.GameView) {
		v.Session = session
		if v.Activated {
			v.Players[model.SeatPlayer1].Address = session.Player1
			v.Players[model.SeatPlayer2].Address = session.Player2
		}
		v.Viewing, v.Seated = s.viewingSeatLocked(session)
	})
	return changed, nil
}

// Activate 激活对局，绑定双方座位地址
func (s *Store) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasGame {
		return ErrNoGame
	}
	s.updateLocked(func(v *model.GameView) {
		v.Activated = true
		v.Players[model.SeatPlayer1].Address = v.Session.Player1
		v.Players[model.SeatPlayer2].Address = v.Session.Player2
		v.Viewing, v.Seated = s.viewingSeatLocked(v.Session)
	})
	return nil
}

// ApplyFull 合并完整对局状态（手牌、场面、余额）
func (s *Store) ApplyFull(full *model.FullState) (bool, error) {
	if full == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasGame {
		return false, ErrNoGame
	}
	if full.GameID != s.view.Session.ID {
		return false, ErrGameMismatch
	}

	changed := s.updateLocked(func(v *model.GameView) {
		for i := range full.Players {
			p := full.Players[i].Clone()
			if p.Address.IsZero() {
				p.Address = v.Players[i].Address
			}
			v.Players[i] = p
		}
		if full.Turn >= v.Session.Turn {
			v.Session.Turn = full.Turn
			if !full.ActivePlayer.IsZero() {
				v.Session.ActivePlayer = full.ActivePlayer
			}
		}
	})
	return changed, nil
}

// View 返回当前视图的深拷贝
func (s *Store) View() model.GameView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Clone()
}

// GameID 当前对局ID
func (s *Store) GameID() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Session.ID, s.hasGame
}

// Revision 视图版本号，只有内容变化时才递增
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Resolution 手牌定位结果，所有字段来自同一次读取
type Resolution struct {
	Index   int
	Card    model.CardInstance
	Player  model.PlayerView
	Session model.GameSession
	Viewing model.Seat
	Seated  bool
}

// Resolve 在当前手牌序列中定位卡牌
func (s *Store) Resolve(seat model.Seat, cardID string) (Resolution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.resolveHandIndexLocked(seat, cardID)
	if idx < 0 {
		return Resolution{}, false
	}
	player := s.view.Players[seat].Clone()
	return Resolution{
		Index:   idx,
		Card:    player.Hand[idx],
		Player:  player,
		Session: s.view.Session,
		Viewing: s.view.Viewing,
		Seated:  s.view.Seated,
	}, true
}

// ResolveHandIndex 返回卡牌此刻在手牌中的位置
// 出牌前必须重新调用，不能复用拖拽开始时的位置
func (s *Store) ResolveHandIndex(seat model.Seat, cardID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.resolveHandIndexLocked(seat, cardID)
	return idx, idx >= 0
}

func (s *Store) resolveHandIndexLocked(seat model.Seat, cardID string) int {
	if !s.hasGame || int(seat) >= len(s.view.Players) {
		return -1
	}
	return s.view.Players[seat].HandIndex(cardID)
}

// PlayCard 提交出牌，handIndex 为视角玩家手牌的位置索引
// 该位置上必须仍是 cardID 这张牌；提交失败时不修改本地状态
func (s *Store) PlayCard(ctx context.Context, cardID string, handIndex int) error {
	gameID, err := s.checkSubmit(func(v *model.GameView) error {
		hand := v.Players[v.Viewing].Hand
		if handIndex < 0 || handIndex >= len(hand) || hand[handIndex].ID != cardID {
			return apperrors.ErrCardNotInHand
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Submitting play card", "gameId", gameID, "cardId", cardID, "handIndex", handIndex)
	if err := s.submitter.SubmitPlayCard(ctx, gameID, handIndex); err != nil {
		return s.submitFailed("playCard", gameID, err)
	}
	s.afterSubmit(ctx, gameID)
	return nil
}

// Stake 向 DeFi 卡质押 ETH
func (s *Store) Stake(ctx context.Context, cardInstanceID string, amount uint64) error {
	gameID, err := s.checkSubmit(nil)
	if err != nil {
		return err
	}

	s.logger.Info("Submitting stake", "gameId", gameID, "cardId", cardInstanceID, "amount", amount)
	if err := s.submitter.SubmitStake(ctx, gameID, cardInstanceID, amount); err != nil {
		return s.submitFailed("stake", gameID, err)
	}
	s.afterSubmit(ctx, gameID)
	return nil
}

// Deposit 向钱包卡存入 ETH
func (s *Store) Deposit(ctx context.Context, cardInstanceID string, amount uint64) error {
	gameID, err := s.checkSubmit(nil)
	if err != nil {
		return err
	}

	s.logger.Info("Submitting deposit", "gameId", gameID, "cardId", cardInstanceID, "amount", amount)
	if err := s.submitter.SubmitDeposit(ctx, gameID, cardInstanceID, amount); err != nil {
		return s.submitFailed("deposit", gameID, err)
	}
	s.afterSubmit(ctx, gameID)
	return nil
}

func (s *Store) checkSubmit(check func(v *model.GameView) error) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasGame {
		return 0, ErrNoGame
	}
	if !s.view.Activated {
		return 0, ErrNotActivated
	}
	if !s.view.Seated {
		return 0, ErrNotSeated
	}
	if check != nil {
		if err := check(&s.view); err != nil {
			return 0, err
		}
	}
	return s.view.Session.ID, nil
}

func (s *Store) submitFailed(action string, gameID uint64, err error) error {
	s.logger.Error("Submission failed", "action", action, "gameId", gameID, "error", err)
	if apperrors.IsInsufficientFunds(err) {
		return apperrors.ErrInsufficientFunds.Wrap(err)
	}
	return apperrors.ErrSubmitFailed.WithMessage(action + " failed").Wrap(err)
}

func (s *Store) afterSubmit(ctx context.Context, gameID uint64) {
	s.mu.RLock()
	hooks := append([]SubmitHook(nil), s.hooks...)
	s.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, gameID)
	}
}

// updateLocked 在副本上修改，内容变化时才替换并递增版本号
func (s *Store) updateLocked(mutate func(v *model.GameView)) bool {
	next := s.view.Clone()
	mutate(&next)
	if reflect.DeepEqual(next, s.view) {
		return false
	}
	s.view = next
	s.revision++
	return true
}

// viewingSeatLocked 本地账户所在座位；未入座时以一号位视角观看
func (s *Store) viewingSeatLocked(session model.GameSession) (model.Seat, bool) {
	if seat, ok := session.SeatOf(s.account); ok {
		return seat, true
	}
	return model.SeatPlayer1, false
}
