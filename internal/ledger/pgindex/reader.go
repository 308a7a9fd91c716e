package pgindex

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/model"
)

// Schema 索引库表结构
//
//go:embed schema.sql
var Schema string

// Querier pgxpool.Pool 与 pgx.Tx 的公共部分
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reader 从链上事件索引库读取对局，实现 ledger.Reader 与 ledger.Directory
// 摘要与原始记录按行返回位置元组，由解码器按布局解析
type Reader struct {
	db Querier
}

var (
	_ ledger.Reader    = (*Reader)(nil)
	_ ledger.Directory = (*Reader)(nil)
)

// NewReader 创建索引库读取器
func NewReader(db Querier) *Reader {
	return &Reader{db: db}
}

// EnsureSchema 创建表结构（测试与本地开发使用）
func (r *Reader) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return err
}

func (r *Reader) FetchSummary(ctx context.Context, gameID uint64) (ledger.Record, error) {
	query := `
		SELECT id, status, player1, player2, creator, active_player, turn
		FROM games WHERE id = $1
	`
	return r.record(ctx, query, gameID)
}

func (r *Reader) FetchRaw(ctx context.Context, gameID uint64) (ledger.Record, error) {
	query := `
		SELECT id, player1, player2, player1_deck, player2_deck, started, finished, active_player, turn
		FROM games WHERE id = $1
	`
	return r.record(ctx, query, gameID)
}

func (r *Reader) record(ctx context.Context, query string, gameID uint64) (ledger.Record, error) {
	rows, err := r.db.Query(ctx, query, int64(gameID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrGameNotFound.Wrap(fmt.Errorf("game %d", gameID))
	}

	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	return ledger.Record(values), nil
}

// FetchFull 读取双方余额、手牌与场上卡牌
func (r *Reader) FetchFull(ctx context.Context, gameID uint64) (*model.FullState, error) {
	full := &model.FullState{GameID: gameID}

	var active *string
	var turn int64
	err := r.db.QueryRow(ctx, `SELECT active_player, turn FROM games WHERE id = $1`, int64(gameID)).
		Scan(&active, &turn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrGameNotFound.Wrap(fmt.Errorf("game %d", gameID))
	}
	if err != nil {
		return nil, err
	}
	if active != nil {
		full.ActivePlayer = model.Address(*active)
	}
	full.Turn = uint64(turn)

	if err := r.players(ctx, gameID, full); err != nil {
		return nil, err
	}
	if err := r.cards(ctx, gameID, full); err != nil {
		return nil, err
	}
	return full, nil
}

func (r *Reader) players(ctx context.Context, gameID uint64, full *model.FullState) error {
	rows, err := r.db.Query(ctx, `SELECT seat, address, eth FROM game_players WHERE game_id = $1`, int64(gameID))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var seat int16
		var address string
		var eth int64
		if err := rows.Scan(&seat, &address, &eth); err != nil {
			return err
		}
		if seat < 0 || seat > 1 {
			return fmt.Errorf("game %d: invalid seat %d", gameID, seat)
		}
		full.Players[seat].Address = model.Address(address)
		full.Players[seat].ETH = uint64(eth)
	}
	return rows.Err()
}

func (r *Reader) cards(ctx context.Context, gameID uint64, full *model.FullState) error {
	query := `
		SELECT ci.seat, ci.zone, ci.instance_id, ci.held_eth, ci.staked_eth, ci.yield_amount,
		       c.card_id, c.name, c.card_type, c.cost, c.power, c.toughness
		FROM card_instances ci
		JOIN cards c ON c.card_id = ci.card_id
		WHERE ci.game_id = $1
		ORDER BY ci.seat, ci.zone, ci.position
	`
	rows, err := r.db.Query(ctx, query, int64(gameID))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seat, zone                 int16
			instanceID                 int64
			held, staked, yield        int64
			cardID, cost, power, tough int64
			name, cardType             string
		)
		if err := rows.Scan(&seat, &zone, &instanceID, &held, &staked, &yield,
			&cardID, &name, &cardType, &cost, &power, &tough); err != nil {
			return err
		}
		if seat < 0 || seat > 1 {
			return fmt.Errorf("game %d: invalid seat %d", gameID, seat)
		}

		inst := model.CardInstance{
			ID: strconv.FormatInt(instanceID, 10),
			Definition: model.CardDefinition{
				CardID:    uint64(cardID),
				Name:      name,
				Type:      model.CardType(cardType),
				Cost:      uint64(cost),
				Power:     uint64(power),
				Toughness: uint64(tough),
			},
			HeldETH:     uint64(held),
			StakedETH:   uint64(staked),
			YieldAmount: uint64(yield),
		}

		p := &full.Players[seat]
		if model.Zone(zone) == model.ZoneBoard {
			p.Board = append(p.Board, inst)
		} else {
			p.Hand = append(p.Hand, inst)
		}
	}
	return rows.Err()
}

// ListGames 列出未结束的对局，按 ID 倒序
func (r *Reader) ListGames(ctx context.Context, limit int) ([]model.OpenGame, error) {
	query := `
		SELECT id, creator, status FROM games
		WHERE status < $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, int16(model.StatusFinished), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []model.OpenGame
	for rows.Next() {
		var id int64
		var creator string
		var status int16
		if err := rows.Scan(&id, &creator, &status); err != nil {
			return nil, err
		}
		games = append(games, model.OpenGame{
			ID:      uint64(id),
			Creator: model.Address(creator),
			Status:  model.Status(status),
		})
	}
	return games, rows.Err()
}

// NextGameID 下一个对局 ID，同时用作连接探测
func (r *Reader) NextGameID(ctx context.Context) (uint64, error) {
	var next int64
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM games`).Scan(&next); err != nil {
		return 0, err
	}
	return uint64(next), nil
}
