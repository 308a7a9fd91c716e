package dnd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/legality"
	"sudooom.cardgame.client/internal/model"
	"sudooom.cardgame.client/internal/store"
)

// Gesture 拖拽开始时捕获的信息
// 只记录卡牌的稳定ID，不记录位置
type Gesture struct {
	CardID string     `json:"card_id"`
	Source model.Zone `json:"source"`
	Owner  model.Seat `json:"owner"`
}

// DropTarget 放置目标区域
type DropTarget struct {
	Zone  model.Zone
	Owner model.Seat
}

// ParseDropTarget 解析形如 "player1-board" 的放置目标ID
func ParseDropTarget(id string) (DropTarget, error) {
	seatPart, zonePart, ok := strings.Cut(id, "-")
	if !ok {
		return DropTarget{}, fmt.Errorf("malformed drop target %q", id)
	}
	seat, err := model.ParseSeat(seatPart)
	if err != nil {
		return DropTarget{}, err
	}
	zone, err := model.ParseZone(zonePart)
	if err != nil {
		return DropTarget{}, err
	}
	return DropTarget{Zone: zone, Owner: seat}, nil
}

// Outcome 拖拽结束的处理结果
type Outcome uint8

const (
	OutcomeIgnored   Outcome = iota // 无效目标或无进行中的拖拽
	OutcomeRejected                 // 合法性校验未通过
	OutcomeAborted                  // 卡牌已不在手牌中
	OutcomeSubmitted                // 已提交出牌
)

var outcomeNames = [...]string{"ignored", "rejected", "aborted", "submitted"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// MarshalText 以名称形式输出到 JSON
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result 拖拽结束结果
type Result struct {
	Outcome   Outcome          `json:"outcome"`
	HandIndex int              `json:"hand_index"`
	Verdict   legality.Verdict `json:"verdict"`
	Reason    string           `json:"reason,omitempty"`
}

// Bridge 把拖拽手势转换为出牌操作
type Bridge struct {
	mu     sync.Mutex
	store  *store.Store
	active *Gesture
	logger *slog.Logger
}

// NewBridge 创建拖拽桥
func NewBridge(s *store.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		store:  s,
		logger: logger,
	}
}

// DragStart 记录拖拽开始
func (b *Bridge) DragStart(cardID string, source model.Zone, owner model.Seat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = &Gesture{CardID: cardID, Source: source, Owner: owner}
}

// Active 当前进行中的拖拽
func (b *Bridge) Active() (Gesture, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return Gesture{}, false
	}
	return *b.active, true
}

// Cancel 取消拖拽（拖到区域外松手）
func (b *Bridge) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = nil
}

// DragEnd 处理拖拽结束
// 只有"视角玩家把自己的手牌拖到自己的场上"才会提交，索引在此刻重新定位
func (b *Bridge) DragEnd(ctx context.Context, target DropTarget) (Result, error) {
	b.mu.Lock()
	g := b.active
	b.active = nil
	b.mu.Unlock()

	if g == nil {
		return Result{Outcome: OutcomeIgnored, HandIndex: -1}, nil
	}

	// 未入座的账户只能观看
	v := b.store.View()
	viewing := v.Viewing
	if !v.Seated || g.Source != model.ZoneHand || g.Owner != viewing ||
		target.Zone != model.ZoneBoard || target.Owner != viewing {
		return Result{Outcome: OutcomeIgnored, HandIndex: -1}, nil
	}

	// 1. 按稳定ID重新定位当前位置
	res, ok := b.store.Resolve(viewing, g.CardID)
	if ok && (!res.Seated || res.Viewing != viewing) {
		return Result{Outcome: OutcomeIgnored, HandIndex: -1}, nil
	}
	if !ok {
		b.logger.Warn("Card not found in hand, drop aborted", "cardId", g.CardID, "seat", viewing)
		return Result{Outcome: OutcomeAborted, HandIndex: -1}, nil
	}

	// 2. 同一次读取的数据做合法性校验
	verdict := legality.Evaluate(res.Card, model.ZoneHand, res.Player, res.Session, res.Viewing)
	if verdict != legality.Playable || res.Player.ETH < res.Card.Cost() {
		reason := legality.Reason(verdict, res.Card, res.Player)
		b.logger.Info("Drop rejected", "cardId", g.CardID, "verdict", verdict, "reason", reason)
		return Result{Outcome: OutcomeRejected, HandIndex: res.Index, Verdict: verdict, Reason: reason}, verdictError(verdict)
	}

	// 3. 以此刻的位置提交
	b.logger.Info("Playing card", "cardId", g.CardID, "name", res.Card.Definition.Name, "handIndex", res.Index)
	if err := b.store.PlayCard(ctx, g.CardID, res.Index); err != nil {
		return Result{Outcome: OutcomeRejected, HandIndex: res.Index, Verdict: verdict}, err
	}
	return Result{Outcome: OutcomeSubmitted, HandIndex: res.Index, Verdict: verdict}, nil
}

// Stake 向视角玩家场上的 DeFi 卡质押
func (b *Bridge) Stake(ctx context.Context, cardID string, amount uint64) error {
	if err := b.checkBoardAction(cardID, amount, isDeFiCard, legality.CanStake); err != nil {
		return err
	}
	return b.store.Stake(ctx, cardID, amount)
}

// Deposit 向视角玩家场上的钱包卡存入 ETH
func (b *Bridge) Deposit(ctx context.Context, cardID string, amount uint64) error {
	if err := b.checkBoardAction(cardID, amount, isWalletCard, legality.CanDeposit); err != nil {
		return err
	}
	return b.store.Deposit(ctx, cardID, amount)
}

func (b *Bridge) checkBoardAction(cardID string, amount uint64, accepts func(model.CardInstance) bool,
	allowed func(model.PlayerView, model.GameSession, model.Seat, uint64) bool) error {
	v := b.store.View()
	if !v.Seated {
		return apperrors.ErrIllegalAction.WithMessage("Not a player in this game")
	}
	player := v.Players[v.Viewing]

	var card *model.CardInstance
	for i := range player.Board {
		if player.Board[i].ID == cardID {
			card = &player.Board[i]
			break
		}
	}
	if card == nil || !accepts(*card) {
		return apperrors.ErrIllegalAction.WithMessage("Card cannot hold ETH")
	}

	if !allowed(player, v.Session, v.Viewing, amount) {
		if player.ETH < amount {
			return apperrors.ErrInsufficientFunds
		}
		return apperrors.ErrIllegalAction
	}
	return nil
}

func isDeFiCard(c model.CardInstance) bool {
	return strings.EqualFold(string(c.Definition.Type), string(model.CardTypeDeFi))
}

func isWalletCard(c model.CardInstance) bool {
	return strings.EqualFold(string(c.Definition.Type), string(model.CardTypeEOA)) ||
		strings.Contains(strings.ToLower(c.Definition.Name), "wallet")
}

func verdictError(v legality.Verdict) error {
	if v == legality.CannotAfford {
		return apperrors.ErrInsufficientFunds
	}
	return apperrors.ErrIllegalAction
}
