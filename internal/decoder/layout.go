package decoder

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// 内置布局名称
const (
	LayoutSummary = "summary"
	LayoutRaw     = "raw"
)

// Field 记录中的字段名
type Field string

const (
	FieldID           Field = "id"
	FieldStatus       Field = "status"
	FieldPlayer1      Field = "player1"
	FieldPlayer2      Field = "player2"
	FieldCreator      Field = "creator"
	FieldPlayer1Deck  Field = "player1_deck"
	FieldPlayer2Deck  Field = "player2_deck"
	FieldStarted      Field = "started"
	FieldFinished     Field = "finished"
	FieldActivePlayer Field = "active_player"
	FieldTurn         Field = "turn"
)

var knownFields = map[Field]bool{
	FieldID: true, FieldStatus: true, FieldPlayer1: true, FieldPlayer2: true,
	FieldCreator: true, FieldPlayer1Deck: true, FieldPlayer2Deck: true,
	FieldStarted: true, FieldFinished: true, FieldActivePlayer: true, FieldTurn: true,
}

// Layout 字段顺序表
type Layout struct {
	Name    string        `yaml:"name"`
	Version int           `yaml:"version"`
	Arity   int           `yaml:"arity"`
	Fields  map[Field]int `yaml:"fields"`
}

// Offset 返回字段所在位置
func (l Layout) Offset(f Field) (int, bool) {
	off, ok := l.Fields[f]
	return off, ok
}

// Validate 校验布局自身是否一致
func (l Layout) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("layout without name")
	}
	if l.Arity <= 0 {
		return fmt.Errorf("layout %s: arity must be positive", l.Name)
	}

	seen := make(map[int]Field, len(l.Fields))
	for f, off := range l.Fields {
		if !knownFields[f] {
			return fmt.Errorf("layout %s: unknown field %q", l.Name, f)
		}
		if off < 0 || off >= l.Arity {
			return fmt.Errorf("layout %s: field %s offset %d outside arity %d", l.Name, f, off, l.Arity)
		}
		if other, dup := seen[off]; dup {
			return fmt.Errorf("layout %s: fields %s and %s share offset %d", l.Name, other, f, off)
		}
		seen[off] = f
	}

	for _, f := range []Field{FieldID, FieldPlayer1, FieldPlayer2} {
		if _, ok := l.Fields[f]; !ok {
			return fmt.Errorf("layout %s: missing required field %s", l.Name, f)
		}
	}

	_, hasStatus := l.Fields[FieldStatus]
	_, hasStarted := l.Fields[FieldStarted]
	_, hasFinished := l.Fields[FieldFinished]
	if !hasStatus && !(hasStarted && hasFinished) {
		return fmt.Errorf("layout %s: needs status or started+finished", l.Name)
	}
	return nil
}

// Layouts 按名称索引的布局集合
type Layouts struct {
	byName map[string]Layout
}

// Get 按名称获取布局
func (ls *Layouts) Get(name string) (Layout, bool) {
	l, ok := ls.byName[name]
	return l, ok
}

// MustGet 获取布局，不存在时 panic
func (ls *Layouts) MustGet(name string) Layout {
	l, ok := ls.byName[name]
	if !ok {
		panic(fmt.Sprintf("decoder: layout %q not registered", name))
	}
	return l
}

type layoutFile struct {
	Layouts []Layout `yaml:"layouts"`
}

//go:embed layouts.yaml
var defaultLayoutsYAML []byte

var (
	defaultOnce    sync.Once
	defaultLayouts *Layouts
	defaultErr     error
)

// DefaultLayouts 返回内置布局
func DefaultLayouts() *Layouts {
	defaultOnce.Do(func() {
		defaultLayouts, defaultErr = ParseLayouts(defaultLayoutsYAML, nil)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("decoder: embedded layouts invalid: %v", defaultErr))
	}
	return defaultLayouts
}

// ParseLayouts 解析 YAML 布局，同名布局覆盖 base 中的定义
func ParseLayouts(data []byte, base *Layouts) (*Layouts, error) {
	var file layoutFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse layouts: %w", err)
	}

	out := &Layouts{byName: make(map[string]Layout)}
	if base != nil {
		for name, l := range base.byName {
			out.byName[name] = l
		}
	}

	for _, l := range file.Layouts {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		out.byName[l.Name] = l
	}
	return out, nil
}

// LoadLayouts 从文件加载布局并覆盖内置布局，path 为空时直接返回内置布局
func LoadLayouts(path string) (*Layouts, error) {
	if path == "" {
		return DefaultLayouts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layouts: %w", err)
	}
	return ParseLayouts(data, DefaultLayouts())
}
