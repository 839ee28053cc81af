package canvas

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	// 文本框在屏幕上的字号与内边距，单位为屏幕像素
	textBoxFontSize = 16
	textBoxPadding  = 5
	textBoxMinWidth = 20
)

var (
	faceOnce sync.Once
	textFace font.Face
	faceErr  error
)

func measureFace() (font.Face, error) {
	faceOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			faceErr = fmt.Errorf("parse font: %w", err)
			return
		}
		textFace = truetype.NewFace(f, &truetype.Options{
			Size:    textBoxFontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	})
	return textFace, faceErr
}

// textBoxSize 估算文本框在屏幕上的宽高。
func textBoxSize(text string) (w, h float64) {
	face, err := measureFace()
	if err != nil {
		return textBoxMinWidth + 2*textBoxPadding, textBoxFontSize + 2*textBoxPadding
	}
	adv := font.MeasureString(face, text)
	w = math.Max(float64(adv)/64, textBoxMinWidth) + 2*textBoxPadding
	h = float64(face.Metrics().Height)/64 + 2*textBoxPadding
	return w, h
}

// bounds 累积内容的包围盒，坐标为画布像素，max 为开区间右边界。
type bounds struct {
	found                  bool
	minX, minY, maxX, maxY float64
}

func (b *bounds) add(x0, y0, x1, y1 float64) {
	if !b.found {
		b.minX, b.minY, b.maxX, b.maxY = x0, y0, x1, y1
		b.found = true
		return
	}
	b.minX = math.Min(b.minX, x0)
	b.minY = math.Min(b.minY, y0)
	b.maxX = math.Max(b.maxX, x1)
	b.maxY = math.Max(b.maxY, y1)
}

// alphaBounds 扫描所有像素，alpha 非零即为内容。
func alphaBounds(img *image.RGBA) bounds {
	var b bounds
	r := img.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[(y-r.Min.Y)*img.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			if row[(x-r.Min.X)*4+3] == 0 {
				continue
			}
			fx, fy := float64(x), float64(y)
			b.add(fx, fy, fx, fy)
		}
	}
	return b
}

// Export 按内容裁剪导出：白底 PNG + data URL。没有内容时导出整张画布。
func (c *Controller) Export() (*Export, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	width, height := c.cfg.Width, c.cfg.Height
	b := alphaBounds(c.surface)
	for _, tb := range c.textBoxes {
		x := tb.Display.X * c.scaleX
		y := tb.Display.Y * c.scaleY
		if x < 0 || y < 0 || x >= float64(width) || y >= float64(height) {
			continue
		}
		w, h := textBoxSize(tb.Text)
		b.add(x, y, x+w*c.scaleX, y+h*c.scaleY)
	}

	rect := image.Rect(0, 0, width, height)
	if b.found {
		minX := int(math.Floor(math.Max(0, b.minX-ExportPadding)))
		minY := int(math.Floor(math.Max(0, b.minY-ExportPadding)))
		maxX := int(math.Ceil(math.Min(float64(width), b.maxX+ExportPadding)))
		maxY := int(math.Ceil(math.Min(float64(height), b.maxY+ExportPadding)))
		if minX < maxX && minY < maxY {
			rect = image.Rect(minX, minY, maxX, maxY)
		}
	}

	bg := imaging.New(rect.Dx(), rect.Dy(), color.White)
	out := imaging.Overlay(bg, imaging.Crop(c.surface, rect), image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}

	exp := &Export{
		Image:   buf.Bytes(),
		DataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		OffsetX: rect.Min.X,
		OffsetY: rect.Min.Y,
		Width:   rect.Dx(),
		Height:  rect.Dy(),

		SurfaceWidth:  width,
		SurfaceHeight: height,
	}
	for _, tb := range c.textBoxes {
		x := tb.Display.X*c.scaleX - float64(rect.Min.X)
		y := tb.Display.Y*c.scaleY - float64(rect.Min.Y)
		if x < 0 || y < 0 || x >= float64(exp.Width) || y >= float64(exp.Height) {
			continue
		}
		text := tb.Text
		if text == Placeholder {
			text = ""
		}
		exp.TextBoxes = append(exp.TextBoxes, ExportedTextBox{ID: tb.ID, X: x, Y: y, Text: text})
	}
	c.metrics.CanvasExported()
	return exp, nil
}
