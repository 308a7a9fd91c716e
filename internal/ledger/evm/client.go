package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sudooom.cardgame.client/internal/config"
	"sudooom.cardgame.client/internal/decoder"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/model"
)

// Backend 链上只读访问
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Sender 把未签名交易交给节点或钱包签名并广播
type Sender interface {
	SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error)
}

// 卡牌类型在合约中的枚举顺序
var cardTypes = [...]model.CardType{
	model.CardTypeUnit,
	model.CardTypeEOA,
	model.CardTypeSpell,
	model.CardTypeAction,
	model.CardTypeChain,
	model.CardTypeDeFi,
	model.CardTypeResource,
	model.CardTypeUpgrade,
}

// Client 基于 go-ethereum 的账本客户端
type Client struct {
	backend        Backend
	sender         Sender
	contract       common.Address
	from           common.Address
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	logger         *slog.Logger

	cardsMu    sync.Mutex
	cards      map[uint64]model.CardDefinition // 卡牌定义不可变，按 cardId 缓存
	cardsGroup singleflight.Group
}

var _ ledger.Client = (*Client)(nil)

// Option 客户端选项
type Option func(*Client)

// WithReceiptPolling 设置回执轮询参数
func WithReceiptPolling(timeout, poll time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.receiptTimeout = timeout
		}
		if poll > 0 {
			c.receiptPoll = poll
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient 创建客户端
func NewClient(backend Backend, sender Sender, contract, from common.Address, opts ...Option) *Client {
	c := &Client{
		backend:        backend,
		sender:         sender,
		contract:       contract,
		from:           from,
		receiptTimeout: 30 * time.Second,
		receiptPoll:    500 * time.Millisecond,
		logger:         slog.Default(),
		cards:          make(map[uint64]model.CardDefinition),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial 连接 JSON-RPC 节点
func Dial(ctx context.Context, cfg config.LedgerConfig, account string, logger *slog.Logger) (*Client, func(), error) {
	if !common.IsHexAddress(cfg.Contract) {
		return nil, nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}
	if account != "" && !common.IsHexAddress(account) {
		return nil, nil, fmt.Errorf("invalid account address %q", account)
	}

	rc, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, ledger.ErrUnreachable.Wrap(err)
	}

	client := NewClient(
		ethclient.NewClient(rc),
		&rpcSender{rc: rc},
		common.HexToAddress(cfg.Contract),
		common.HexToAddress(account),
		WithReceiptPolling(cfg.ReceiptTimeout, cfg.ReceiptPoll),
		WithLogger(logger),
	)
	return client, rc.Close, nil
}

// rpcSender 通过 eth_sendTransaction 交给节点托管的账户签名
type rpcSender struct {
	rc *rpc.Client
}

func (s *rpcSender) SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	var hash common.Hash
	err := s.rc.CallContext(ctx, &hash, "eth_sendTransaction", map[string]any{
		"from": from,
		"to":   to,
		"data": hexutil.Bytes(data),
	})
	return hash, err
}

// ============== 读取 ==============

func (c *Client) FetchSummary(ctx context.Context, gameID uint64) (ledger.Record, error) {
	vals, err := c.call(ctx, methodDetailedState, new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, gameError(gameID, err)
	}
	return ledger.Record(vals), nil
}

func (c *Client) FetchRaw(ctx context.Context, gameID uint64) (ledger.Record, error) {
	vals, err := c.call(ctx, methodGames, new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, gameError(gameID, err)
	}
	return ledger.Record(vals), nil
}

// FetchFull 读取对局摘要后并发读取双方状态
func (c *Client) FetchFull(ctx context.Context, gameID uint64) (*model.FullState, error) {
	rec, err := c.FetchSummary(ctx, gameID)
	if err != nil {
		return nil, err
	}
	session, err := decoder.Decode(rec, decoder.DefaultLayouts().MustGet(decoder.LayoutSummary))
	if err != nil {
		return nil, err
	}
	if session.Player1.IsZero() {
		return nil, ledger.ErrGameNotFound.Wrap(fmt.Errorf("game %d", gameID))
	}

	full := &model.FullState{
		GameID:       gameID,
		ActivePlayer: session.ActivePlayer,
		Turn:         session.Turn,
	}

	g, gctx := errgroup.WithContext(ctx)
	for seat, addr := range [2]model.Address{session.Player1, session.Player2} {
		full.Players[seat].Address = addr
		if addr.IsZero() {
			continue
		}
		g.Go(func() error {
			view, err := c.playerView(gctx, gameID, addr)
			if err != nil {
				return err
			}
			full.Players[seat] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return full, nil
}

func (c *Client) playerView(ctx context.Context, gameID uint64, addr model.Address) (model.PlayerView, error) {
	vals, err := c.call(ctx, methodPlayerState, new(big.Int).SetUint64(gameID), common.HexToAddress(string(addr)))
	if err != nil {
		return model.PlayerView{}, err
	}
	if len(vals) != 3 {
		return model.PlayerView{}, fmt.Errorf("getPlayerState returned %d values", len(vals))
	}

	eth, err := decoder.Uint64(vals[0])
	if err != nil {
		return model.PlayerView{}, err
	}
	view := model.PlayerView{Address: addr, ETH: eth}

	if view.Hand, err = c.instances(ctx, vals[1]); err != nil {
		return model.PlayerView{}, err
	}
	if view.Board, err = c.instances(ctx, vals[2]); err != nil {
		return model.PlayerView{}, err
	}
	return view, nil
}

func (c *Client) instances(ctx context.Context, v any) ([]model.CardInstance, error) {
	ids, ok := v.([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected instance list type %T", v)
	}

	out := make([]model.CardInstance, 0, len(ids))
	for _, id := range ids {
		inst, err := c.instance(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (c *Client) instance(ctx context.Context, id *big.Int) (model.CardInstance, error) {
	vals, err := c.call(ctx, methodCardInstance, id)
	if err != nil {
		return model.CardInstance{}, err
	}

	nums, err := uints(vals, 4)
	if err != nil {
		return model.CardInstance{}, fmt.Errorf("card instance %s: %w", id, err)
	}
	def, err := c.definition(ctx, nums[0])
	if err != nil {
		return model.CardInstance{}, err
	}
	return model.CardInstance{
		ID:          id.String(),
		Definition:  def,
		HeldETH:     nums[1],
		StakedETH:   nums[2],
		YieldAmount: nums[3],
	}, nil
}

func (c *Client) definition(ctx context.Context, cardID uint64) (model.CardDefinition, error) {
	if def, ok := c.cachedDefinition(cardID); ok {
		return def, nil
	}

	v, err, _ := c.cardsGroup.Do(strconv.FormatUint(cardID, 10), func() (any, error) {
		if def, ok := c.cachedDefinition(cardID); ok {
			return def, nil
		}

		vals, err := c.call(ctx, methodCard, new(big.Int).SetUint64(cardID))
		if err != nil {
			return nil, err
		}
		if len(vals) != 5 {
			return nil, fmt.Errorf("getCard returned %d values", len(vals))
		}
		name, _ := vals[0].(string)
		nums, err := uints(vals[1:], 4)
		if err != nil {
			return nil, fmt.Errorf("card %d: %w", cardID, err)
		}

		def := model.CardDefinition{
			CardID:    cardID,
			Name:      name,
			Type:      cardType(nums[0]),
			Cost:      nums[1],
			Power:     nums[2],
			Toughness: nums[3],
		}
		c.cardsMu.Lock()
		c.cards[cardID] = def
		c.cardsMu.Unlock()
		return def, nil
	})
	if err != nil {
		return model.CardDefinition{}, err
	}
	return v.(model.CardDefinition), nil
}

func (c *Client) cachedDefinition(cardID uint64) (model.CardDefinition, bool) {
	c.cardsMu.Lock()
	defer c.cardsMu.Unlock()
	def, ok := c.cards[cardID]
	return def, ok
}

func (c *Client) ListGames(ctx context.Context, limit int) ([]model.OpenGame, error) {
	vals, err := c.call(ctx, methodActiveGames, big.NewInt(int64(limit)))
	if err != nil {
		return nil, err
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("getActiveGames returned %d values", len(vals))
	}

	ids, _ := vals[0].([]*big.Int)
	creators, _ := vals[1].([]common.Address)
	statuses, _ := vals[2].([]uint8)
	if len(creators) != len(ids) || len(statuses) != len(ids) {
		return nil, fmt.Errorf("getActiveGames returned mismatched columns")
	}

	games := make([]model.OpenGame, 0, len(ids))
	for i, id := range ids {
		games = append(games, model.OpenGame{
			ID:      id.Uint64(),
			Creator: model.Address(creators[i].Hex()),
			Status:  model.Status(statuses[i]),
		})
	}
	return games, nil
}

func (c *Client) NextGameID(ctx context.Context) (uint64, error) {
	vals, err := c.call(ctx, methodNextGameID)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("nextGameId returned %d values", len(vals))
	}
	return decoder.Uint64(vals[0])
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	parsed := ContractABI()
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, transportError(err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result, no contract at %s", method, c.contract.Hex())
	}
	return parsed.Unpack(method, out)
}

// ============== 提交 ==============

func (c *Client) SubmitCreate(ctx context.Context, deckID uint64) (uint64, error) {
	receipt, err := c.send(ctx, methodCreateGame, new(big.Int).SetUint64(deckID))
	if err != nil {
		return 0, err
	}

	created := ContractABI().Events[eventGameCreated].ID
	for _, lg := range receipt.Logs {
		if lg.Address == c.contract && len(lg.Topics) >= 2 && lg.Topics[0] == created {
			return new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(), nil
		}
	}
	return 0, fmt.Errorf("transaction %s emitted no GameCreated event", receipt.TxHash.Hex())
}

func (c *Client) SubmitJoin(ctx context.Context, gameID, deckID uint64) error {
	_, err := c.send(ctx, methodJoinGame, new(big.Int).SetUint64(gameID), new(big.Int).SetUint64(deckID))
	return err
}

func (c *Client) SubmitStart(ctx context.Context, gameID uint64) error {
	_, err := c.send(ctx, methodStartGame, new(big.Int).SetUint64(gameID))
	return err
}

func (c *Client) SubmitPlayCard(ctx context.Context, gameID uint64, handIndex int) error {
	if handIndex < 0 {
		return fmt.Errorf("negative hand index %d", handIndex)
	}
	_, err := c.send(ctx, methodPlayCard, new(big.Int).SetUint64(gameID), big.NewInt(int64(handIndex)))
	return err
}

func (c *Client) SubmitStake(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error {
	return c.sendCardAction(ctx, methodStakeETH, gameID, cardInstanceID, amount)
}

func (c *Client) SubmitDeposit(ctx context.Context, gameID uint64, cardInstanceID string, amount uint64) error {
	return c.sendCardAction(ctx, methodDepositETH, gameID, cardInstanceID, amount)
}

func (c *Client) sendCardAction(ctx context.Context, method string, gameID uint64, cardInstanceID string, amount uint64) error {
	id, err := strconv.ParseUint(cardInstanceID, 10, 64)
	if err != nil {
		return fmt.Errorf("card instance id %q: %w", cardInstanceID, err)
	}
	_, err = c.send(ctx, method,
		new(big.Int).SetUint64(gameID),
		new(big.Int).SetUint64(id),
		new(big.Int).SetUint64(amount))
	return err
}

// send 编码调用数据，交给签名方广播后等待回执
func (c *Client) send(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	data, err := ContractABI().Pack(method, args...)
	if err != nil {
		return nil, err
	}

	hash, err := c.sender.SendTransaction(ctx, c.from, c.contract, data)
	if err != nil {
		return nil, transportError(err)
	}
	c.logger.Info("Transaction sent", "method", method, "txHash", hash.Hex())

	receipt, err := c.waitReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s: transaction %s reverted", method, hash.Hex())
	}
	return receipt, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, transportError(err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// ============== 辅助函数 ==============

func uints(vals []any, n int) ([]uint64, error) {
	if len(vals) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(vals))
	}
	out := make([]uint64, n)
	for i, v := range vals {
		u, err := decoder.Uint64(v)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

func cardType(v uint64) model.CardType {
	if v < uint64(len(cardTypes)) {
		return cardTypes[v]
	}
	return model.CardTypeUnit
}

// transportError 节点不可达时返回 ErrUnreachable
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return ledger.ErrUnreachable.Wrap(err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return ledger.ErrUnreachable.Wrap(err)
	}
	return err
}

// gameError 读取单个对局时合约回滚视为对局不存在
func gameError(gameID uint64, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "does not exist") {
		return ledger.ErrGameNotFound.Wrap(fmt.Errorf("game %d: %w", gameID, err))
	}
	return err
}
