package natsgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/model"
)

// Requester 请求/响应传输
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// request 请求信封
type request struct {
	RequestID      string `json:"request_id"`
	GameID         uint64 `json:"game_id,omitempty"`
	DeckID         uint64 `json:"deck_id,omitempty"`
	HandIndex      *int   `json:"hand_index,omitempty"`
	CardInstanceID string `json:"card_instance_id,omitempty"`
	Amount         uint64 `json:"amount,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// response 响应信封，与 HTTP 接口的 {code, message, data} 一致
type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type openGame struct {
	ID      uint64 `json:"id"`
	Creator string `json:"creator"`
	Status  uint8  `json:"status"`
}

type created struct {
	GameID uint64 `json:"game_id"`
}

type nextID struct {
	NextGameID uint64 `json:"next_game_id"`
}

// Gateway 通过 NATS 请求/响应访问账本网关服务
type Gateway struct {
	requester Requester
	prefix    string
	logger    *slog.Logger
}

var _ ledger.Client = (*Gateway)(nil)

// New 创建网关客户端
func New(requester Requester, prefix string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		requester: requester,
		prefix:    prefix,
		logger:    logger,
	}
}

func (g *Gateway) FetchSummary(ctx context.Context, gameID uint64) (ledger.Record, error) {
	return g.record(ctx, SubjectGameSummary, gameID)
}

func (g *Gateway) FetchRaw(ctx context.Context, gameID uint64) (ledger.Record, error) {
	return g.record(ctx, SubjectGameRaw, gameID)
}

func (g *Gateway) FetchFull(ctx context.Context, gameID uint64) (*model.FullState, error) {
	var full model.FullState
	if err := g.call(ctx, SubjectGameFull, request{GameID: gameID}, &full); err != nil {
		return nil, err
	}
	full.GameID = gameID
	return &full, nil
}

func (g *Gateway) ListGames(ctx context.Context, limit int) ([]model.OpenGame, error) {
	var wire []openGame
	if err := g.call(ctx, SubjectGameList, request{Limit: limit}, &wire); err != nil {
		return nil, err
	}

	games := make([]model.OpenGame, 0, len(wire))
	for _, w := range wire {
		games = append(games, model.OpenGame{
			ID:      w.ID,
			Creator: model.Address(w.Creator),
			Status:  model.Status(w.Status),
		})
	}
	return games, nil
}

func (g *Gateway) NextGameID(ctx context.Context) (uint64, error) {
	var out nextID
	if err := g.call(ctx, SubjectGameNextID, request{}, &out); err != nil {
		return 0, err
	}
	return out.NextGameID, nil
}

func (g *Gateway) SubmitCreate(ctx context.Context, deckID uint64) (uint64, error) {
	var out created
	if err := g.call(ctx, SubjectTxCreate, request{DeckID: deckID}, &out); err != nil {
		return 0, err
	}
	return out.GameID, nil
}

func (g *Gateway) SubmitJoin(ctx context.Context, gameID, deckID uint64) error {
	return g.call(ctx, SubjectTxJoin, request{GameID: gameID, DeckID: deckID}, nil)
}

func (g *Gateway) SubmitStart(ctx context.Context, gameID uint64) error {
	return g.call(ctx, SubjectTxStart, request{GameID: gameID}, nil)
}

func (g *Gateway) SubmitPlayCard(ctx context.Context, gameID uint64, handIndex int) error {
	return g.call(ctx, SubjectTxPlayCard, request{GameID: gameID, HandIndex: &handIndex}, nil)
}

func (g *Gateway) SubmitStake(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error {
	return g.call(ctx, SubjectTxStake, request{GameID: gameID, CardInstanceID: cardInstanceID, Amount: amount}, nil)
}

func (g *Gateway) SubmitDeposit(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error {
	return g.call(ctx, SubjectTxDeposit, request{GameID: gameID, CardInstanceID: cardInstanceID, Amount: amount}, nil)
}

// record 读取位置元组，数字保留为 json.Number 交给解码器转换
func (g *Gateway) record(ctx context.Context, suffix string, gameID uint64) (ledger.Record, error) {
	var raw json.RawMessage
	if err := g.call(ctx, suffix, request{GameID: gameID}, &raw); err != nil {
		return nil, err
	}

	var rec []any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, apperrors.ErrDecode.Wrap(err)
	}
	return ledger.Record(rec), nil
}

func (g *Gateway) call(ctx context.Context, suffix string, req request, out any) error {
	req.RequestID = uuid.NewString()
	subject := BuildSubject(g.prefix, suffix)

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	data, err := g.requester.Request(ctx, subject, payload)
	if err != nil {
		g.logger.Debug("Ledger gateway request failed", "subject", subject, "requestId", req.RequestID, "error", err)
		return transportError(err)
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return apperrors.ErrDecode.Wrap(err)
	}
	if err := responseError(resp, req.GameID); err != nil {
		return err
	}

	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return apperrors.ErrDecode.Wrap(err)
	}
	return nil
}

// transportError 连接层故障统一为 ErrUnreachable，其余原样返回
func transportError(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionDraining):
		return ledger.ErrUnreachable.Wrap(err)
	}
	return err
}

// responseError 将网关错误码转换为本地错误
func responseError(resp response, gameID uint64) error {
	switch resp.Code {
	case apperrors.CodeSuccess:
		return nil
	case apperrors.CodeNotFound:
		return ledger.ErrGameNotFound.Wrap(fmt.Errorf("game %d: %s", gameID, resp.Message))
	}
	return apperrors.NewError(resp.Code, resp.Message)
}
