package canvas

import (
	"bytes"
	"image"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"grape-notebook/server/internal/metrics"
)

// Controller 独占一块位图和一组文本框，负责撤销/重做与导出。
// 所有命令经由 Apply 串行执行。
type Controller struct {
	mu sync.Mutex

	cfg     Config
	scaleX  float64
	scaleY  float64
	surface *image.RGBA
	dc      *gg.Context

	tool      Tool
	palette   *Palette
	penWidth  float64
	drawing   bool
	last      Point
	textBoxes []TextBox
	nextID    int
	history   *History

	metrics *metrics.Metrics
}

// New 创建并激活画布：空白位图 + 一张初始快照。
func New(cfg Config, m *metrics.Metrics) *Controller {
	cfg = cfg.withDefaults()
	surface := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	c := &Controller{
		cfg:      cfg,
		scaleX:   float64(cfg.Width) / float64(cfg.DisplayWidth),
		scaleY:   float64(cfg.Height) / float64(cfg.DisplayHeight),
		surface:  surface,
		dc:       gg.NewContextForRGBA(surface),
		tool:     ToolPen,
		palette:  NewPalette(),
		penWidth: DefaultPenWidth,
		history:  NewHistory(MaxHistory),
		metrics:  m,
	}
	c.pushSnapshot()
	return c
}

// Apply 执行命令并返回执行后的状态。
func (c *Controller) Apply(cmd Command) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch cmd := cmd.(type) {
	case SelectTool:
		err = c.selectTool(cmd.Tool)
	case StrokeBegin:
		err = c.strokeBegin(cmd.Point)
	case StrokeMove:
		err = c.strokeMove(cmd.Point)
	case StrokeEnd:
		err = c.strokeEnd()
	case PlaceTextBox:
		err = c.placeTextBox(cmd.Point)
	case DragTextBox:
		err = c.withTextBox(cmd.ID, func(tb *TextBox) { tb.Display = cmd.Display })
	case EditTextBox:
		err = c.withTextBox(cmd.ID, func(tb *TextBox) {
			tb.Text = cmd.Text
			tb.Focused = true
		})
	case FocusTextBox:
		err = c.withTextBox(cmd.ID, func(tb *TextBox) {
			if !tb.Focused && tb.Text == Placeholder {
				tb.Text = ""
			}
			tb.Focused = true
		})
	case Undo:
		c.undo()
	case Redo:
		c.redo()
	case SelectColor:
		err = c.palette.Select(cmd.Hex)
	case AddCustomColor:
		err = c.palette.AddCustom(cmd.Hex)
	case SetPenWidth:
		c.penWidth = clampWidth(cmd.Width)
	case Reset:
		c.reset()
	default:
		err = ErrUnknownCommand
	}
	if err == nil {
		c.metrics.CanvasCommand(CommandKind(cmd))
	}
	return c.stateLocked(), err
}

// State 返回当前状态。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Tool:      c.tool,
		Color:     c.palette.Selected(),
		Palette:   c.palette.Swatches(),
		PenWidth:  c.penWidth,
		Drawing:   c.drawing,
		TextBoxes: copyTextBoxes(c.textBoxes),
		Cursor:    c.history.Cursor(),
		MaxCursor: c.history.MaxCursor(),
		CanUndo:   c.history.CanUndo(),
		CanRedo:   c.history.CanRedo(),
	}
}

// Surface 返回位图副本。
func (c *Controller) Surface() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.surface.Bounds())
	copy(out.Pix, c.surface.Pix)
	return out
}

func (c *Controller) selectTool(t Tool) error {
	if !t.Valid() {
		return ErrUnknownTool
	}
	// 切换工具时结束未完成的笔画，不留快照
	c.drawing = false
	c.tool = t
	return nil
}

func (c *Controller) strokeBegin(p Point) error {
	if c.tool != ToolPen {
		return ErrWrongTool
	}
	c.drawing = true
	c.last = p.scale(c.scaleX, c.scaleY)
	return nil
}

func (c *Controller) strokeMove(p Point) error {
	if c.tool != ToolPen {
		return ErrWrongTool
	}
	if !c.drawing {
		return ErrNoStroke
	}
	next := p.scale(c.scaleX, c.scaleY)
	c.dc.SetColor(c.palette.Color())
	c.dc.SetLineWidth(c.penWidth)
	c.dc.SetLineCap(gg.LineCapRound)
	c.dc.DrawLine(c.last.X, c.last.Y, next.X, next.Y)
	c.dc.Stroke()
	c.last = next
	return nil
}

func (c *Controller) strokeEnd() error {
	if c.tool != ToolPen {
		return ErrWrongTool
	}
	if !c.drawing {
		return ErrNoStroke
	}
	c.drawing = false
	c.pushSnapshot()
	return nil
}

func (c *Controller) placeTextBox(p Point) error {
	if c.tool != ToolTextBox {
		return ErrWrongTool
	}
	c.textBoxes = append(c.textBoxes, TextBox{
		ID:       c.nextID,
		Position: p.scale(c.scaleX, c.scaleY),
		Display:  p,
		Text:     Placeholder,
	})
	c.nextID++
	c.pushSnapshot()
	return nil
}

func (c *Controller) withTextBox(id int, fn func(tb *TextBox)) error {
	for i := range c.textBoxes {
		if c.textBoxes[i].ID == id {
			fn(&c.textBoxes[i])
			return nil
		}
	}
	return ErrUnknownTextBox
}

func (c *Controller) undo() {
	snap, ok := c.history.Undo()
	if !ok {
		return
	}
	c.drawing = false
	if snap == nil {
		c.clearSurface()
		c.textBoxes = nil
		return
	}
	c.restore(*snap)
}

func (c *Controller) redo() {
	snap, ok := c.history.Redo()
	if !ok {
		return
	}
	c.drawing = false
	c.restore(*snap)
}

// reset 对应新建一条记录：清空历史、位图与文本框，再存一张空白快照。
func (c *Controller) reset() {
	c.history.Reset()
	c.clearSurface()
	c.textBoxes = nil
	c.drawing = false
	c.pushSnapshot()
}

func (c *Controller) clearSurface() {
	clear(c.surface.Pix)
}

// pushSnapshot 编码当前位图入栈。
// 入栈后位图等于该快照的解码结果。
func (c *Controller) pushSnapshot() {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, c.surface, imaging.PNG); err != nil {
		c.history.Push(Snapshot{TextBoxes: copyTextBoxes(c.textBoxes)})
		return
	}
	snap := Snapshot{Surface: buf.Bytes(), TextBoxes: copyTextBoxes(c.textBoxes)}
	c.history.Push(snap)
	c.restoreSurface(snap.Surface)
}

func (c *Controller) restore(s Snapshot) {
	c.restoreSurface(s.Surface)
	c.textBoxes = copyTextBoxes(s.TextBoxes)
}

// restoreSurface 无法解码的快照按空白处理。
func (c *Controller) restoreSurface(data []byte) {
	c.clearSurface()
	if len(data) == 0 {
		return
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}
	draw.Draw(c.surface, c.surface.Bounds(), img, img.Bounds().Min, draw.Src)
}

func clampWidth(w float64) float64 {
	switch {
	case w < MinPenWidth:
		return MinPenWidth
	case w > MaxPenWidth:
		return MaxPenWidth
	}
	return w
}

func copyTextBoxes(in []TextBox) []TextBox {
	if len(in) == 0 {
		return nil
	}
	return append([]TextBox(nil), in...)
}
