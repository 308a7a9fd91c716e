package legality

import (
	"fmt"

	"sudooom.cardgame.client/internal/model"
)

// Verdict 出牌合法性判定
type Verdict uint8

const (
	Playable Verdict = iota
	CannotAfford
	WrongPhase
	NotYourTurn
)

var verdictNames = [...]string{"playable", "cannot_afford", "wrong_phase", "not_your_turn"}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("verdict(%d)", uint8(v))
}

// MarshalText 以名称形式输出到 JSON
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Evaluate 计算卡牌在当前状态下能否打出
// 纯函数：只依赖入参，界面展示与提交前校验共用同一结果
func Evaluate(card model.CardInstance, source model.Zone, player model.PlayerView, session model.GameSession, viewing model.Seat) Verdict {
	// 场上的牌只用于查看
	if source == model.ZoneBoard {
		return Playable
	}

	if !isViewersTurn(session, viewing) {
		return NotYourTurn
	}

	if !phaseAllowsPlay(session) {
		return WrongPhase
	}

	if player.ETH < card.Cost() {
		return CannotAfford
	}

	return Playable
}

// phaseAllowsPlay 回合阶段校验
// 链上只暴露主阶段，因此恒为 true；接入多阶段回合后在这里判断
func phaseAllowsPlay(model.GameSession) bool {
	return true
}

func isViewersTurn(session model.GameSession, viewing model.Seat) bool {
	viewer := session.AddressOf(viewing)
	if viewer.IsZero() {
		return false
	}
	return session.ActivePlayer.Equal(viewer)
}

// Reason 判定对应的提示文案
func Reason(v Verdict, card model.CardInstance, player model.PlayerView) string {
	switch v {
	case Playable:
		return "Ready to play"
	case CannotAfford:
		return fmt.Sprintf("Need %d more ETH", card.Cost()-player.ETH)
	case WrongPhase:
		return "Cannot play cards in this phase"
	case NotYourTurn:
		return "Not your turn"
	}
	return ""
}

// CanDrag 卡牌能否被拖动：只有可打出的手牌可以拖动
func CanDrag(card model.CardInstance, source model.Zone, player model.PlayerView, session model.GameSession, viewing model.Seat) bool {
	if source != model.ZoneHand {
		return false
	}
	return Evaluate(card, source, player, session, viewing) == Playable
}

// CanStake 能否向 DeFi 卡质押
func CanStake(player model.PlayerView, session model.GameSession, viewing model.Seat, amount uint64) bool {
	return amount > 0 && isViewersTurn(session, viewing) && player.ETH >= amount
}

// CanDeposit 能否向钱包卡存入 ETH
func CanDeposit(player model.PlayerView, session model.GameSession, viewing model.Seat, amount uint64) bool {
	return CanStake(player, session, viewing, amount)
}

// CardState 单张卡牌的判定结果，供界面渲染
type CardState struct {
	CardID    string     `json:"card_id"`
	Zone      model.Zone `json:"zone"`
	Verdict   Verdict    `json:"verdict"`
	Reason    string     `json:"reason"`
	Draggable bool       `json:"draggable"`
}

// Annotate 计算玩家手牌与场面上每张牌的判定
// 本地账户未入座时手牌一律不可出
func Annotate(view model.GameView, seat model.Seat) []CardState {
	player := view.Players[seat]
	out := make([]CardState, 0, len(player.Hand)+len(player.Board))

	add := func(card model.CardInstance, zone model.Zone) {
		v := Evaluate(card, zone, player, view.Session, view.Viewing)
		if !view.Seated && zone == model.ZoneHand {
			v = NotYourTurn
		}
		out = append(out, CardState{
			CardID:    card.ID,
			Zone:      zone,
			Verdict:   v,
			Reason:    Reason(v, card, player),
			Draggable: view.Seated && seat == view.Viewing && CanDrag(card, zone, player, view.Session, view.Viewing),
		})
	}

	for _, c := range player.Hand {
		add(c, model.ZoneHand)
	}
	for _, c := range player.Board {
		add(c, model.ZoneBoard)
	}
	return out
}
