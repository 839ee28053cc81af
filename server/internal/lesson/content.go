package lesson

import (
	"encoding/json"
	"errors"
	"strings"

	"grape-notebook/server/internal/canvas"
)

// ErrUnreadable 内容是 JSON 但无法解析，界面显示占位文字。
var ErrUnreadable = errors.New("lesson content is unreadable")

// UnreadablePlaceholder 无法解析时显示的文字。
const UnreadablePlaceholder = "불러올 수 없는 내용입니다"

// DrawingContent 导出的图示。
type DrawingContent struct {
	Canvas         string                   `json:"canvas"`
	TextBoxes      []canvas.ExportedTextBox `json:"textBoxes"`
	OriginalWidth  int                      `json:"originalWidth"`
	OriginalHeight int                      `json:"originalHeight"`
	CropOffsetX    int                      `json:"cropOffsetX"`
	CropOffsetY    int                      `json:"cropOffsetY"`
	CropWidth      int                      `json:"cropWidth"`
	CropHeight     int                      `json:"cropHeight"`
}

// DrawingFromExport 把画布导出结果转为存储结构。
func DrawingFromExport(exp *canvas.Export) *DrawingContent {
	if exp == nil {
		return nil
	}
	return &DrawingContent{
		Canvas:         exp.DataURL,
		TextBoxes:      append([]canvas.ExportedTextBox(nil), exp.TextBoxes...),
		OriginalWidth:  exp.SurfaceWidth,
		OriginalHeight: exp.SurfaceHeight,
		CropOffsetX:    exp.OffsetX,
		CropOffsetY:    exp.OffsetY,
		CropWidth:      exp.Width,
		CropHeight:     exp.Height,
	}
}

// Content 一条学习记录的内容，三种形式可以同时存在。
type Content struct {
	HasText    bool            `json:"hasText"`
	Text       string          `json:"text,omitempty"`
	HasDrawing bool            `json:"hasDrawing"`
	Drawing    *DrawingContent `json:"drawing,omitempty"`
	HasPhoto   bool            `json:"hasPhoto"`
	PhotoURL   string          `json:"photoUrl,omitempty"`
}

// RecordType 按 text/drawing/photo 顺序用下划线连接。
func (c Content) RecordType() string {
	var kinds []string
	if c.HasText {
		kinds = append(kinds, "text")
	}
	if c.HasDrawing {
		kinds = append(kinds, "drawing")
	}
	if c.HasPhoto {
		kinds = append(kinds, "photo")
	}
	return strings.Join(kinds, "_")
}

// wireContent 是存储中的形状，drawing 字段本身是一段 JSON 字符串。
type wireContent struct {
	Text       string `json:"text"`
	Drawing    string `json:"drawing"`
	Photo      string `json:"photo"`
	HasText    *bool  `json:"hasText,omitempty"`
	HasDrawing *bool  `json:"hasDrawing,omitempty"`
	HasPhoto   *bool  `json:"hasPhoto,omitempty"`
}

// Encode 序列化为存储用的字符串。
func (c Content) Encode() (string, error) {
	w := wireContent{
		Text:       c.Text,
		Photo:      c.PhotoURL,
		HasText:    &c.HasText,
		HasDrawing: &c.HasDrawing,
		HasPhoto:   &c.HasPhoto,
	}
	if c.HasDrawing && c.Drawing != nil {
		d, err := json.Marshal(c.Drawing)
		if err != nil {
			return "", err
		}
		w.Drawing = string(d)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseContent 解析存储中的内容。
//
// 当前形状带 hasText/hasDrawing 标记；旧数据（纯文本，或不带标记的 JSON）迁移为文本，
// 旧的图示 JSON（含 canvas 字段）迁移为图示。以 { 开头却无法解析时返回 ErrUnreadable。
func ParseContent(raw string) (Content, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Content{HasText: true, Text: raw}, nil
	}

	var w wireContent
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Content{}, ErrUnreadable
	}
	if w.HasText == nil && w.HasDrawing == nil {
		return parseLegacy(trimmed, raw)
	}

	c := Content{
		HasText:    deref(w.HasText),
		Text:       w.Text,
		HasDrawing: deref(w.HasDrawing),
		HasPhoto:   deref(w.HasPhoto),
		PhotoURL:   w.Photo,
	}
	if c.HasDrawing && w.Drawing != "" {
		var d DrawingContent
		if err := json.Unmarshal([]byte(w.Drawing), &d); err != nil {
			return c, ErrUnreadable
		}
		c.Drawing = &d
	}
	return c, nil
}

func parseLegacy(trimmed, raw string) (Content, error) {
	var d DrawingContent
	if err := json.Unmarshal([]byte(trimmed), &d); err == nil && d.Canvas != "" {
		return Content{HasDrawing: true, Drawing: &d}, nil
	}
	return Content{HasText: true, Text: raw}, nil
}

func deref(b *bool) bool {
	return b != nil && *b
}
