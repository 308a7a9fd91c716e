package ledger

import (
	"context"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/model"
)

// Record 链上返回的位置元组
type Record []any

// 各适配器统一返回的错误
var (
	// ErrGameNotFound 对局不存在
	ErrGameNotFound = apperrors.ErrNotFound

	// ErrUnreachable 无法连接账本（传输层故障）
	ErrUnreachable = apperrors.ErrNetworkUnreachable
)

// Reader 读取链上对局状态
type Reader interface {
	FetchSummary(ctx context.Context, gameID uint64) (Record, error)
	FetchFull(ctx context.Context, gameID uint64) (*model.FullState, error)
	FetchRaw(ctx context.Context, gameID uint64) (Record, error)
}

// Writer 提交链上操作，签名与广播由钱包负责
type Writer interface {
	SubmitCreate(ctx context.Context, deckID uint64) (uint64, error)
	SubmitJoin(ctx context.Context, gameID, deckID uint64) error
	SubmitStart(ctx context.Context, gameID uint64) error
	SubmitPlayCard(ctx context.Context, gameID uint64, handIndex int) error
	SubmitStake(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error
	SubmitDeposit(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error
}

// Directory 大厅查询
type Directory interface {
	ListGames(ctx context.Context, limit int) ([]model.OpenGame, error)
	NextGameID(ctx context.Context) (uint64, error)
}

// Client 完整的账本客户端
type Client interface {
	Reader
	Writer
	Directory
}

// Split 读写分离组合：读取走索引库，写入走链上
type Split struct {
	Reader
	Writer
	Directory
}

var _ Client = Split{}
