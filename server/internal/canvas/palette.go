package canvas

import (
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultColors 默认色板，第一个为默认笔色。
var DefaultColors = []string{"#000000", "#FF0000", "#0000FF", "#008000", "#FFA500", "#800080", "#8B4513"}

// Palette 笔色色板，按大写十六进制去重。
type Palette struct {
	swatches []string
	selected string
}

func NewPalette() *Palette {
	return &Palette{
		swatches: append([]string(nil), DefaultColors...),
		selected: DefaultColors[0],
	}
}

// normalizeHex 校验并转为大写 #RRGGBB。
func normalizeHex(hex string) (string, error) {
	hex = strings.TrimSpace(hex)
	if _, err := colorful.Hex(hex); err != nil {
		return "", ErrInvalidColor
	}
	return strings.ToUpper(hex), nil
}

// Select 选中已有或任意合法颜色。
func (p *Palette) Select(hex string) error {
	norm, err := normalizeHex(hex)
	if err != nil {
		return err
	}
	p.selected = norm
	return nil
}

// AddCustom 追加自定义颜色并选中；已存在时只选中。
func (p *Palette) AddCustom(hex string) error {
	norm, err := normalizeHex(hex)
	if err != nil {
		return err
	}
	if !p.has(norm) {
		p.swatches = append(p.swatches, norm)
	}
	p.selected = norm
	return nil
}

func (p *Palette) has(hex string) bool {
	for _, s := range p.swatches {
		if strings.EqualFold(s, hex) {
			return true
		}
	}
	return false
}

func (p *Palette) Selected() string { return p.selected }

func (p *Palette) Swatches() []string {
	return append([]string(nil), p.swatches...)
}

// Color 当前笔色，解析失败时退回黑色。
func (p *Palette) Color() color.Color {
	c, err := colorful.Hex(p.selected)
	if err != nil {
		return color.Black
	}
	return c.Clamped()
}
