package canvas

import (
	"fmt"

	"grape-notebook/server/internal/model"
)

// Tool 当前激活的工具。
type Tool string

const (
	ToolPen     Tool = "pen"
	ToolTextBox Tool = "textbox"
)

func (t Tool) Valid() bool {
	return t == ToolPen || t == ToolTextBox
}

// Placeholder 新建文本框时的占位文字，第一次聚焦时清空。
const Placeholder = "텍스트 입력"

const (
	// MaxHistory 最多保留的快照数
	MaxHistory = 50
	// ExportPadding 导出裁剪时四周留白，单位为画布像素
	ExportPadding = 10

	DefaultPenWidth = 3
	MinPenWidth     = 1
	MaxPenWidth     = 20
)

// Point 坐标。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) scale(sx, sy float64) Point {
	return Point{X: p.X * sx, Y: p.Y * sy}
}

// TextBox 画布上的浮动文本框。
// Position 是创建时的画布坐标，之后不再变化；Display 是屏幕坐标，拖动时更新。
type TextBox struct {
	ID       int    `json:"id"`
	Position Point  `json:"position"`
	Display  Point  `json:"display"`
	Text     string `json:"text"`
	// Focused 已经聚焦过，占位文字已被清除
	Focused bool `json:"focused"`
}

// Snapshot 一次历史快照。Surface 为 PNG 编码的位图。
type Snapshot struct {
	Surface   []byte
	TextBoxes []TextBox
}

// ExportedTextBox 导出时的文本框，坐标相对于裁剪后的图像。
type ExportedTextBox struct {
	ID   int     `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

// Export 裁剪后的导出结果。
type Export struct {
	Image     []byte            `json:"-"`
	DataURL   string            `json:"dataUrl"`
	OffsetX   int               `json:"offsetX"`
	OffsetY   int               `json:"offsetY"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	TextBoxes []ExportedTextBox `json:"textBoxes"`

	// 裁剪前的画布尺寸
	SurfaceWidth  int `json:"originalWidth"`
	SurfaceHeight int `json:"originalHeight"`
}

// Config 画布尺寸。Display* 是屏幕上的显示尺寸，用于把屏幕坐标换算到画布坐标。
type Config struct {
	Width         int
	Height        int
	DisplayWidth  int
	DisplayHeight int
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 800
	}
	if c.Height <= 0 {
		c.Height = 600
	}
	if c.DisplayWidth <= 0 {
		c.DisplayWidth = c.Width
	}
	if c.DisplayHeight <= 0 {
		c.DisplayHeight = c.Height
	}
	return c
}

// State 对外展示的画布状态，不含位图。
type State struct {
	Tool      Tool      `json:"tool"`
	Color     string    `json:"color"`
	Palette   []string  `json:"palette"`
	PenWidth  float64   `json:"penWidth"`
	Drawing   bool      `json:"drawing"`
	TextBoxes []TextBox `json:"textBoxes"`
	Cursor    int       `json:"cursor"`
	MaxCursor int       `json:"maxCursor"`
	CanUndo   bool      `json:"canUndo"`
	CanRedo   bool      `json:"canRedo"`
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, msg)
}

var (
	ErrWrongTool      = validation("command not available for the active tool")
	ErrUnknownTool    = validation("unknown tool")
	ErrNoStroke       = validation("no stroke in progress")
	ErrUnknownTextBox = validation("text box not found")
	ErrInvalidColor   = validation("color is not a valid hex value")
	ErrUnknownCommand = validation("unknown canvas command")
)
