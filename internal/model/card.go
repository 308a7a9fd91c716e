package model

// CardType 卡牌类型
type CardType string

const (
	CardTypeUnit     CardType = "unit"
	CardTypeEOA      CardType = "eoa"
	CardTypeSpell    CardType = "spell"
	CardTypeAction   CardType = "action"
	CardTypeChain    CardType = "chain"
	CardTypeDeFi     CardType = "defi"
	CardTypeResource CardType = "resource"
	CardTypeUpgrade  CardType = "upgrade"
)

// CardDefinition 卡牌定义
type CardDefinition struct {
	CardID    uint64   `json:"card_id"`
	Name      string   `json:"name"`
	Type      CardType `json:"type"`
	Cost      uint64   `json:"cost"`
	Power     uint64   `json:"power"`
	Toughness uint64   `json:"toughness"`
}

// CardInstance 卡牌实例，ID 稳定，与在手牌中的位置无关
type CardInstance struct {
	ID          string         `json:"id"`
	Definition  CardDefinition `json:"definition"`
	HeldETH     uint64         `json:"held_eth"`
	StakedETH   uint64         `json:"staked_eth"`
	YieldAmount uint64         `json:"yield_amount"`
}

// Cost 出牌费用
func (c CardInstance) Cost() uint64 {
	return c.Definition.Cost
}

// PlayerView 单个玩家的视图
// Hand 的顺序即链上出牌所用的位置索引，Board 的顺序仅用于展示
type PlayerView struct {
	Address Address        `json:"address"`
	ETH     uint64         `json:"eth"`
	Hand    []CardInstance `json:"hand"`
	Board   []CardInstance `json:"board"`
}

// Clone 深拷贝
func (p PlayerView) Clone() PlayerView {
	out := p
	out.Hand = append([]CardInstance(nil), p.Hand...)
	out.Board = append([]CardInstance(nil), p.Board...)
	return out
}

// HandIndex 在当前手牌序列中查找卡牌位置
func (p PlayerView) HandIndex(cardID string) int {
	for i, c := range p.Hand {
		if c.ID == cardID {
			return i
		}
	}
	return -1
}

// FullState 完整对局状态（双方手牌、场面、余额）
type FullState struct {
	GameID       uint64        `json:"game_id"`
	Players      [2]PlayerView `json:"players"`
	ActivePlayer Address       `json:"active_player"`
	Turn         uint64        `json:"turn"`
}

// GameView 本地对局镜像，提供给界面读取
type GameView struct {
	Session   GameSession   `json:"session"`
	Players   [2]PlayerView `json:"players"`
	Viewing   Seat          `json:"viewing"`
	Seated    bool          `json:"seated"` // 本地账户是否为对局玩家
	Activated bool          `json:"activated"`
}

// Player 返回座位对应的玩家视图
func (v GameView) Player(seat Seat) PlayerView {
	return v.Players[seat]
}

// ViewingAddress 当前视角玩家地址
func (v GameView) ViewingAddress() Address {
	return v.Session.AddressOf(v.Viewing)
}

// Clone 深拷贝
func (v GameView) Clone() GameView {
	out := v
	for i := range v.Players {
		out.Players[i] = v.Players[i].Clone()
	}
	return out
}

// OpenGame 大厅中可加入的对局
type OpenGame struct {
	ID      uint64  `json:"id"`
	Creator Address `json:"creator"`
	Status  Status  `json:"status"`
}
