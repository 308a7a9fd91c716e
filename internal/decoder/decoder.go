package decoder

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/model"
)

// Decode 按布局把位置元组解码为对局会话
// 摘要接口与原始元组接口共用这一条解码路径
func Decode(record []any, layout Layout) (model.GameSession, error) {
	var s model.GameSession

	if len(record) != layout.Arity {
		return s, apperrors.ErrDecode.Wrap(fmt.Errorf(
			"layout %s v%d: expected %d fields, got %d", layout.Name, layout.Version, layout.Arity, len(record)))
	}

	r := reader{record: record, layout: layout}

	s.ID = r.uint(FieldID)
	s.Player1 = r.address(FieldPlayer1)
	s.Player2 = r.address(FieldPlayer2)
	s.Creator = r.address(FieldCreator)
	s.ActivePlayer = r.address(FieldActivePlayer)
	s.Turn = r.uint(FieldTurn)

	// 卡组字段不进入会话，但类型仍需校验
	r.uint(FieldPlayer1Deck)
	r.uint(FieldPlayer2Deck)

	if _, ok := layout.Offset(FieldStatus); ok {
		s.Status = model.Status(r.uint(FieldStatus))
		if r.err == nil && !s.Status.Valid() {
			r.fail(FieldStatus, fmt.Errorf("unknown status %d", s.Status))
		}
	} else {
		s.Status = statusFromFlags(r.bool(FieldStarted), r.bool(FieldFinished), s.Player2)
	}

	if r.err != nil {
		return model.GameSession{}, apperrors.ErrDecode.Wrap(r.err)
	}

	if s.Creator.IsZero() {
		s.Creator = s.Player1
	}
	return s, nil
}

func statusFromFlags(started, finished bool, player2 model.Address) model.Status {
	switch {
	case finished:
		return model.StatusFinished
	case started:
		return model.StatusStarted
	case !player2.IsZero():
		return model.StatusReadyToStart
	default:
		return model.StatusWaitingForPlayers
	}
}

// reader 记录首个错误，后续读取直接跳过
type reader struct {
	record []any
	layout Layout
	err    error
}

func (r *reader) value(f Field) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	off, ok := r.layout.Offset(f)
	if !ok {
		return nil, false
	}
	return r.record[off], true
}

func (r *reader) fail(f Field, err error) {
	if r.err == nil {
		off, _ := r.layout.Offset(f)
		r.err = fmt.Errorf("layout %s field %s at offset %d: %w", r.layout.Name, f, off, err)
	}
}

func (r *reader) uint(f Field) uint64 {
	v, ok := r.value(f)
	if !ok {
		return 0
	}
	n, err := Uint64(v)
	if err != nil {
		r.fail(f, err)
	}
	return n
}

func (r *reader) bool(f Field) bool {
	v, ok := r.value(f)
	if !ok {
		return false
	}
	b, err := Bool(v)
	if err != nil {
		r.fail(f, err)
	}
	return b
}

func (r *reader) address(f Field) model.Address {
	v, ok := r.value(f)
	if !ok {
		return ""
	}
	a, err := Address(v)
	if err != nil {
		r.fail(f, err)
	}
	return a
}

// Uint64 把链上或 JSON 传来的数值转换为 uint64
func Uint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	case int:
		return fromSigned(int64(n))
	case int8:
		return fromSigned(int64(n))
	case int16:
		return fromSigned(int64(n))
	case int32:
		return fromSigned(int64(n))
	case int64:
		return fromSigned(n)
	case *big.Int:
		if n == nil || n.Sign() < 0 || !n.IsUint64() {
			return 0, fmt.Errorf("big integer %v out of range", n)
		}
		return n.Uint64(), nil
	case big.Int:
		return Uint64(&n)
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case float64:
		if n < 0 || n != math.Trunc(n) || n > 1<<53 {
			return 0, fmt.Errorf("float %v is not a whole non-negative number", n)
		}
		return uint64(n), nil
	case string:
		return strconv.ParseUint(n, 0, 64)
	}
	return 0, fmt.Errorf("unexpected numeric type %T", v)
}

func fromSigned(n int64) (uint64, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return uint64(n), nil
}

// Bool 解析布尔标志
func Bool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("unexpected flag type %T", v)
}

// Address 解析地址，支持字符串、Stringer 与 20 字节数组
func Address(v any) (model.Address, error) {
	switch a := v.(type) {
	case nil:
		return "", nil
	case model.Address:
		return a, nil
	case string:
		return parseAddress(a)
	case [20]byte:
		return model.Address(fmt.Sprintf("0x%x", a[:])), nil
	case fmt.Stringer:
		return parseAddress(a.String())
	}
	return "", fmt.Errorf("unexpected address type %T", v)
}

func parseAddress(s string) (model.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") || len(s) != 42 {
		return "", fmt.Errorf("malformed address %q", s)
	}
	return model.Address(s), nil
}
