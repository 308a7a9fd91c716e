package lobby

import (
	"context"
	"log/slog"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/model"
	"sudooom.cardgame.client/internal/navstate"
)

// DefaultListLimit 大厅列表默认拉取数量
const DefaultListLimit = 30

// Service 大厅操作：创建、加入、开始、列出对局
// 提交失败只返回给调用方，不修改本地镜像
type Service struct {
	writer    ledger.Writer
	directory ledger.Directory
	flags     navstate.Flags
	logger    *slog.Logger
}

// NewService 创建大厅服务
func NewService(writer ledger.Writer, directory ledger.Directory, flags navstate.Flags, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		writer:    writer,
		directory: directory,
		flags:     flags,
		logger:    logger,
	}
}

// CreateGame 创建对局
func (s *Service) CreateGame(ctx context.Context, deckID uint64) (uint64, error) {
	gameID, err := s.writer.SubmitCreate(ctx, deckID)
	if err != nil {
		s.logger.Error("Failed to create game", "error", err, "deckId", deckID)
		return 0, submitError("Create game failed", err)
	}
	s.logger.Info("Game created", "gameId", gameID, "deckId", deckID)
	return gameID, nil
}

// JoinGame 加入对局
func (s *Service) JoinGame(ctx context.Context, gameID, deckID uint64) error {
	if err := s.writer.SubmitJoin(ctx, gameID, deckID); err != nil {
		s.logger.Error("Failed to join game", "error", err, "gameId", gameID, "deckId", deckID)
		return submitError("Join game failed", err)
	}
	s.logger.Info("Joined game", "gameId", gameID, "deckId", deckID)
	return nil
}

// StartGame 开始对局，成功后留下一次性"刚开局"标记供对局页面使用
func (s *Service) StartGame(ctx context.Context, gameID uint64) error {
	if err := s.writer.SubmitStart(ctx, gameID); err != nil {
		s.logger.Error("Failed to start game", "error", err, "gameId", gameID)
		return submitError("Start game failed", err)
	}

	if s.flags != nil {
		if err := s.flags.MarkStarted(ctx, gameID); err != nil {
			// 标记丢失只会让对局页面直接跳大厅，由轮询接手
			s.logger.Warn("Failed to record start flag", "error", err, "gameId", gameID)
		}
	}
	s.logger.Info("Game start submitted", "gameId", gameID)
	return nil
}

// ConsumeJustStarted 读取并清除"刚开局"标记
func (s *Service) ConsumeJustStarted(ctx context.Context, gameID uint64) bool {
	if s.flags == nil {
		return false
	}
	ok, err := s.flags.ConsumeStarted(ctx, gameID)
	if err != nil {
		s.logger.Warn("Failed to read start flag", "error", err, "gameId", gameID)
		return false
	}
	return ok
}

// ListOpenGames 列出等待加入的对局
func (s *Service) ListOpenGames(ctx context.Context, limit int) ([]model.OpenGame, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	games, err := s.directory.ListGames(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to list games", "error", err)
		return nil, apperrors.Classify(err)
	}

	open := make([]model.OpenGame, 0, len(games))
	for _, g := range games {
		if g.Status == model.StatusWaitingForPlayers {
			open = append(open, g)
		}
	}
	return open, nil
}

func submitError(message string, err error) error {
	if apperrors.IsInsufficientFunds(err) {
		return apperrors.ErrInsufficientFunds.Wrap(err)
	}
	return apperrors.ErrSubmitFailed.WithMessage(message).Wrap(err)
}
