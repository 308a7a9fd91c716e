package model

import (
	"fmt"
	"strings"
)

// ZeroAddress 链上未填充的地址
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// Address 账户地址，比较时忽略大小写
type Address string

// IsZero 是否为空地址（玩家尚未加入）
func (a Address) IsZero() bool {
	return a == "" || strings.EqualFold(string(a), string(ZeroAddress))
}

// Equal 忽略大小写比较地址
func (a Address) Equal(b Address) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() && b.IsZero()
	}
	return strings.EqualFold(string(a), string(b))
}

// Status 对局状态，只能前进不能回退
type Status uint8

const (
	StatusWaitingForPlayers Status = iota
	StatusReadyToStart
	StatusStarted
	StatusFinished
)

var statusNames = [...]string{"waiting", "ready", "started", "finished"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText 以名称形式输出到 JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析状态名称
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(text)) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	return s <= StatusFinished
}

// HasStarted 已开始或已结束
func (s Status) HasStarted() bool {
	return s >= StatusStarted
}

// Seat 座位
type Seat uint8

const (
	SeatPlayer1 Seat = iota
	SeatPlayer2
)

func (s Seat) String() string {
	if s == SeatPlayer2 {
		return "player2"
	}
	return "player1"
}

// MarshalText 以名称形式输出到 JSON
func (s Seat) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析座位名称
func (s *Seat) UnmarshalText(text []byte) error {
	seat, err := ParseSeat(string(text))
	if err != nil {
		return err
	}
	*s = seat
	return nil
}

// ParseSeat 解析 "player1"/"player2"
func ParseSeat(v string) (Seat, error) {
	switch strings.ToLower(v) {
	case "player1":
		return SeatPlayer1, nil
	case "player2":
		return SeatPlayer2, nil
	}
	return 0, fmt.Errorf("unknown seat %q", v)
}

// Zone 牌所在区域
type Zone uint8

const (
	ZoneHand Zone = iota
	ZoneBoard
)

func (z Zone) String() string {
	if z == ZoneBoard {
		return "board"
	}
	return "hand"
}

// MarshalText 以名称形式输出到 JSON
func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText 解析区域名称
func (z *Zone) UnmarshalText(text []byte) error {
	zone, err := ParseZone(string(text))
	if err != nil {
		return err
	}
	*z = zone
	return nil
}

// ParseZone 解析 "hand"/"board"
func ParseZone(v string) (Zone, error) {
	switch strings.ToLower(v) {
	case "hand":
		return ZoneHand, nil
	case "board":
		return ZoneBoard, nil
	}
	return 0, fmt.Errorf("unknown zone %q", v)
}

// GameSession 对局会话（链上对局的摘要）
type GameSession struct {
	ID           uint64  `json:"id"`            // 对局ID
	Status       Status  `json:"status"`        // 对局状态
	Player1      Address `json:"player1"`       // 玩家1地址
	Player2      Address `json:"player2"`       // 玩家2地址（加入前为空）
	Creator      Address `json:"creator"`       // 创建者地址
	ActivePlayer Address `json:"active_player"` // 当前行动玩家
	Turn         uint64  `json:"turn"`          // 回合数
}

// SeatOf 返回地址所在座位
func (g GameSession) SeatOf(addr Address) (Seat, bool) {
	switch {
	case !g.Player1.IsZero() && g.Player1.Equal(addr):
		return SeatPlayer1, true
	case !g.Player2.IsZero() && g.Player2.Equal(addr):
		return SeatPlayer2, true
	}
	return 0, false
}

// AddressOf 返回座位上的地址
func (g GameSession) AddressOf(seat Seat) Address {
	if seat == SeatPlayer2 {
		return g.Player2
	}
	return g.Player1
}

// IsHost 是否为房主（玩家1或创建者）
func (g GameSession) IsHost(addr Address) bool {
	if addr.IsZero() {
		return false
	}
	return g.Player1.Equal(addr) || g.Creator.Equal(addr)
}
