package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/color"
	"reflect"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"grape-notebook/server/internal/model"
)

func newTestController() *Controller {
	return New(Config{Width: 400, Height: 300}, nil)
}

func apply(t *testing.T, c *Controller, cmds ...Command) State {
	t.Helper()
	var st State
	for _, cmd := range cmds {
		var err error
		st, err = c.Apply(cmd)
		if err != nil {
			t.Fatalf("apply %s: %v", CommandKind(cmd), err)
		}
	}
	return st
}

func stroke(from, to Point) []Command {
	return []Command{StrokeBegin{Point: from}, StrokeMove{Point: to}, StrokeEnd{}}
}

func isBlank(c *Controller) bool {
	for i := 3; i < len(c.surface.Pix); i += 4 {
		if c.surface.Pix[i] != 0 {
			return false
		}
	}
	return true
}

// TestNewPushesInitialSnapshot 验证激活时存一张空白快照。
func TestNewPushesInitialSnapshot(t *testing.T) {
	c := newTestController()
	st := c.State()
	if st.Cursor != 0 || st.MaxCursor != 0 || c.history.Len() != 1 {
		t.Fatalf("unexpected history: cursor=%d max=%d len=%d", st.Cursor, st.MaxCursor, c.history.Len())
	}
	if st.Tool != ToolPen || st.PenWidth != DefaultPenWidth || st.Color != "#000000" {
		t.Fatalf("unexpected defaults: %+v", st)
	}
	if !isBlank(c) {
		t.Fatalf("new surface must be blank")
	}
}

// TestStrokeDrawsAndPushes 验证笔画绘制到位图并在结束时入栈。
func TestStrokeDrawsAndPushes(t *testing.T) {
	c := newTestController()
	st := apply(t, c, stroke(Point{10, 10}, Point{50, 50})...)
	if st.Cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", st.Cursor)
	}
	if _, _, _, a := c.surface.At(30, 30).RGBA(); a == 0 {
		t.Fatalf("expected stroke pixel at (30,30)")
	}
	if _, _, _, a := c.surface.At(200, 200).RGBA(); a != 0 {
		t.Fatalf("unexpected paint far from stroke")
	}
}

// TestStrokeRequiresPen 验证文本框工具下不能画线。
func TestStrokeRequiresPen(t *testing.T) {
	c := newTestController()
	apply(t, c, SelectTool{Tool: ToolTextBox})
	if _, err := c.Apply(StrokeBegin{Point: Point{1, 1}}); !errors.Is(err, ErrWrongTool) {
		t.Fatalf("expected ErrWrongTool, got %v", err)
	}
	apply(t, c, SelectTool{Tool: ToolPen})
	if _, err := c.Apply(StrokeMove{Point: Point{1, 1}}); !errors.Is(err, ErrNoStroke) {
		t.Fatalf("expected ErrNoStroke, got %v", err)
	}
	if _, err := c.Apply(SelectTool{Tool: "eraser"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for unknown tool, got %v", err)
	}
}

// TestUndoRedoRestoresIdenticalState 验证撤销后立即重做恢复逐像素相同的画面与文本框。
func TestUndoRedoRestoresIdenticalState(t *testing.T) {
	c := newTestController()
	apply(t, c, stroke(Point{10, 10}, Point{80, 40})...)
	apply(t, c, SelectColor{Hex: "#FF0000"}, SetPenWidth{Width: 7})
	apply(t, c, stroke(Point{100, 100}, Point{150, 20})...)
	apply(t, c, SelectTool{Tool: ToolTextBox}, PlaceTextBox{Point: Point{60, 70}})

	beforePix := append([]byte(nil), c.surface.Pix...)
	before := c.State()

	apply(t, c, Undo{})
	if len(c.State().TextBoxes) != 0 {
		t.Fatalf("undo should remove the text box")
	}
	apply(t, c, Redo{})

	if !bytes.Equal(beforePix, c.surface.Pix) {
		t.Fatalf("redo did not restore identical pixels")
	}
	if !reflect.DeepEqual(before.TextBoxes, c.State().TextBoxes) {
		t.Fatalf("text boxes differ after undo/redo")
	}

	apply(t, c, Undo{}, Undo{})
	apply(t, c, Redo{}, Redo{})
	if !bytes.Equal(beforePix, c.surface.Pix) {
		t.Fatalf("double undo/redo did not restore identical pixels")
	}
}

// TestUndoAtFirstSnapshotClearsEverything 验证停在第一张快照时撤销会清空全部历史。
func TestUndoAtFirstSnapshotClearsEverything(t *testing.T) {
	c := newTestController()
	apply(t, c, stroke(Point{10, 10}, Point{20, 20})...)
	apply(t, c, Undo{})
	st := apply(t, c, Undo{})

	if st.Cursor != -1 || st.MaxCursor != -1 || c.history.Len() != 0 {
		t.Fatalf("expected empty history, got cursor=%d max=%d len=%d", st.Cursor, st.MaxCursor, c.history.Len())
	}
	if !isBlank(c) || len(st.TextBoxes) != 0 {
		t.Fatalf("expected empty canvas")
	}
	st = apply(t, c, Redo{}, Undo{})
	if st.Cursor != -1 {
		t.Fatalf("redo/undo on empty history must be no-ops")
	}
}

// TestEditAfterUndoTruncatesRedo 验证撤销后的新编辑丢弃可重做的分支。
func TestEditAfterUndoTruncatesRedo(t *testing.T) {
	c := newTestController()
	apply(t, c, stroke(Point{10, 10}, Point{20, 20})...)
	apply(t, c, stroke(Point{30, 30}, Point{40, 40})...)
	apply(t, c, stroke(Point{50, 50}, Point{60, 60})...)
	st := apply(t, c, Undo{}, Undo{})
	if st.Cursor != 1 || st.MaxCursor != 3 || !st.CanRedo {
		t.Fatalf("unexpected state after undo: %+v", st)
	}

	st = apply(t, c, stroke(Point{100, 10}, Point{120, 10})...)
	if st.Cursor != 2 || st.MaxCursor != 2 || st.CanRedo || c.history.Len() != 3 {
		t.Fatalf("branch not truncated: cursor=%d max=%d len=%d", st.Cursor, st.MaxCursor, c.history.Len())
	}
}

// TestHistoryCap 验证推入 55 张快照后只保留最新的 50 张。
func TestHistoryCap(t *testing.T) {
	h := NewHistory(MaxHistory)
	for i := 0; i < 55; i++ {
		h.Push(Snapshot{TextBoxes: []TextBox{{ID: i}}})
	}
	if h.Len() != 50 || h.Cursor() != 49 || h.MaxCursor() != 49 {
		t.Fatalf("expected 50 entries with cursor 49, got len=%d cursor=%d max=%d", h.Len(), h.Cursor(), h.MaxCursor())
	}
	if h.entries[0].TextBoxes[0].ID != 5 || h.entries[49].TextBoxes[0].ID != 54 {
		t.Fatalf("oldest 5 not evicted: first=%d last=%d", h.entries[0].TextBoxes[0].ID, h.entries[49].TextBoxes[0].ID)
	}
}

// TestPlaceTextBoxScalesToSurface 验证文本框位置按屏幕到画布的比例换算。
func TestPlaceTextBoxScalesToSurface(t *testing.T) {
	c := New(Config{Width: 800, Height: 600, DisplayWidth: 400, DisplayHeight: 300}, nil)
	if _, err := c.Apply(PlaceTextBox{Point: Point{10, 10}}); !errors.Is(err, ErrWrongTool) {
		t.Fatalf("expected ErrWrongTool under pen, got %v", err)
	}
	st := apply(t, c, SelectTool{Tool: ToolTextBox}, PlaceTextBox{Point: Point{100, 50}}, PlaceTextBox{Point: Point{5, 5}})

	if len(st.TextBoxes) != 2 || st.Cursor != 2 {
		t.Fatalf("expected 2 boxes and 2 pushes, got %+v", st)
	}
	tb := st.TextBoxes[0]
	if tb.Position != (Point{200, 100}) || tb.Display != (Point{100, 50}) || tb.Text != Placeholder {
		t.Fatalf("unexpected text box: %+v", tb)
	}
	if st.TextBoxes[1].ID != tb.ID+1 {
		t.Fatalf("ids must be monotonic")
	}

	// 撤销后新建的文本框不复用 id
	apply(t, c, Undo{}, PlaceTextBox{Point: Point{1, 1}})
	if got := c.State().TextBoxes[1].ID; got != 2 {
		t.Fatalf("expected fresh id 2, got %d", got)
	}
}

// TestTextBoxFocusDragEdit 验证聚焦清除占位文字、拖动只改屏幕坐标。
func TestTextBoxFocusDragEdit(t *testing.T) {
	c := newTestController()
	apply(t, c, SelectTool{Tool: ToolTextBox}, PlaceTextBox{Point: Point{10, 10}})
	cursor := c.State().Cursor

	st := apply(t, c, FocusTextBox{ID: 0})
	if st.TextBoxes[0].Text != "" {
		t.Fatalf("focus should clear placeholder, got %q", st.TextBoxes[0].Text)
	}
	st = apply(t, c, EditTextBox{ID: 0, Text: Placeholder}, FocusTextBox{ID: 0})
	if st.TextBoxes[0].Text != Placeholder {
		t.Fatalf("placeholder is only cleared on first focus")
	}

	st = apply(t, c, DragTextBox{ID: 0, Display: Point{90, 45}})
	if st.TextBoxes[0].Display != (Point{90, 45}) || st.TextBoxes[0].Position != (Point{10, 10}) {
		t.Fatalf("drag must update display only: %+v", st.TextBoxes[0])
	}
	if st.Cursor != cursor {
		t.Fatalf("drag and edit must not push snapshots")
	}
	if _, err := c.Apply(DragTextBox{ID: 42}); !errors.Is(err, ErrUnknownTextBox) {
		t.Fatalf("expected ErrUnknownTextBox, got %v", err)
	}
}

// TestPalette 验证自定义颜色按大写值去重，非法颜色被拒绝。
func TestPalette(t *testing.T) {
	c := newTestController()
	n := len(c.State().Palette)

	st := apply(t, c, AddCustomColor{Hex: "#ff0000"})
	if len(st.Palette) != n || st.Color != "#FF0000" {
		t.Fatalf("existing color should be selected, not added: %+v", st)
	}
	st = apply(t, c, AddCustomColor{Hex: "#12ab9f"})
	if len(st.Palette) != n+1 || st.Palette[n] != "#12AB9F" || st.Color != "#12AB9F" {
		t.Fatalf("custom color not added: %+v", st)
	}
	st = apply(t, c, AddCustomColor{Hex: "#12AB9F"})
	if len(st.Palette) != n+1 {
		t.Fatalf("duplicate custom color added")
	}
	if _, err := c.Apply(SelectColor{Hex: "blue"}); !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("expected ErrInvalidColor, got %v", err)
	}
}

// TestPenWidthClamped 验证笔宽被限制在 [1, 20]。
func TestPenWidthClamped(t *testing.T) {
	c := newTestController()
	if st := apply(t, c, SetPenWidth{Width: 0}); st.PenWidth != MinPenWidth {
		t.Fatalf("expected %d, got %v", MinPenWidth, st.PenWidth)
	}
	if st := apply(t, c, SetPenWidth{Width: 99}); st.PenWidth != MaxPenWidth {
		t.Fatalf("expected %d, got %v", MaxPenWidth, st.PenWidth)
	}
}

// TestResetClearsAndReactivates 验证重置后只剩一张空白快照。
func TestResetClearsAndReactivates(t *testing.T) {
	c := newTestController()
	apply(t, c, stroke(Point{10, 10}, Point{20, 20})...)
	apply(t, c, SelectTool{Tool: ToolTextBox}, PlaceTextBox{Point: Point{5, 5}})

	st := apply(t, c, Reset{})
	if st.Cursor != 0 || st.MaxCursor != 0 || c.history.Len() != 1 || len(st.TextBoxes) != 0 || !isBlank(c) {
		t.Fatalf("unexpected state after reset: %+v", st)
	}
}

// TestRestoreUndecodableSnapshot 验证无法解码的快照恢复为空白。
func TestRestoreUndecodableSnapshot(t *testing.T) {
	c := newTestController()
	apply(t, c, stroke(Point{10, 10}, Point{20, 20})...)
	c.restore(Snapshot{Surface: []byte("not a png"), TextBoxes: []TextBox{{ID: 7}}})
	if !isBlank(c) {
		t.Fatalf("expected blank surface")
	}
	if len(c.textBoxes) != 1 || c.textBoxes[0].ID != 7 {
		t.Fatalf("text boxes should still be restored")
	}
}

// TestExportEmptyReturnsFullSurface 验证没有内容时导出整张画布。
func TestExportEmptyReturnsFullSurface(t *testing.T) {
	c := newTestController()
	exp, err := c.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exp.OffsetX != 0 || exp.OffsetY != 0 || exp.Width != 400 || exp.Height != 300 {
		t.Fatalf("unexpected export bounds: %+v", exp)
	}
	img, err := imaging.Decode(bytes.NewReader(exp.Image))
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 300 {
		t.Fatalf("unexpected image size %v", img.Bounds())
	}
	if !strings.HasPrefix(exp.DataURL, "data:image/png;base64,") {
		t.Fatalf("unexpected data url prefix")
	}
}

// TestExportSinglePixel 验证单个像素的包围盒按 10 像素留白并被画布边界截断。
func TestExportSinglePixel(t *testing.T) {
	cases := []struct {
		name         string
		x, y         int
		wantX, wantY int
		wantW, wantH int
	}{
		{name: "middle", x: 100, y: 50, wantX: 90, wantY: 40, wantW: 20, wantH: 20},
		{name: "top-left", x: 3, y: 4, wantX: 0, wantY: 0, wantW: 13, wantH: 14},
		{name: "bottom-right", x: 399, y: 299, wantX: 389, wantY: 289, wantW: 11, wantH: 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestController()
			c.surface.Set(tc.x, tc.y, color.RGBA{A: 255})

			exp, err := c.Export()
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if exp.OffsetX != tc.wantX || exp.OffsetY != tc.wantY || exp.Width != tc.wantW || exp.Height != tc.wantH {
				t.Fatalf("unexpected bounds: got (%d,%d %dx%d)", exp.OffsetX, exp.OffsetY, exp.Width, exp.Height)
			}
			if tc.x < exp.OffsetX || tc.x >= exp.OffsetX+exp.Width || tc.y < exp.OffsetY || tc.y >= exp.OffsetY+exp.Height {
				t.Fatalf("pixel outside exported box")
			}

			img, _ := imaging.Decode(bytes.NewReader(exp.Image))
			if r, g, b, a := img.At(0, 0).RGBA(); r != 0xffff || g != 0xffff || b != 0xffff || a != 0xffff {
				t.Fatalf("expected opaque white background at corner")
			}
			if r, _, _, _ := img.At(tc.x-exp.OffsetX, tc.y-exp.OffsetY).RGBA(); r != 0 {
				t.Fatalf("expected content pixel to be black")
			}
		})
	}
}

// TestExportIncludesTextBoxes 验证文本框参与裁剪并按偏移平移，越界的被过滤。
func TestExportIncludesTextBoxes(t *testing.T) {
	c := newTestController()
	c.surface.Set(380, 280, color.RGBA{A: 255})
	apply(t, c,
		SelectTool{Tool: ToolTextBox},
		PlaceTextBox{Point: Point{200, 100}},
		EditTextBox{ID: 0, Text: "hello"},
		PlaceTextBox{Point: Point{250, 150}},
		PlaceTextBox{Point: Point{10, 10}},
		DragTextBox{ID: 2, Display: Point{-40, -40}},
	)

	exp, err := c.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exp.OffsetX != 190 || exp.OffsetY != 90 {
		t.Fatalf("expected crop to start at text box minus padding, got (%d,%d)", exp.OffsetX, exp.OffsetY)
	}
	if exp.OffsetX+exp.Width != 390 || exp.OffsetY+exp.Height != 290 {
		t.Fatalf("expected crop to end at pixel plus padding, got %dx%d", exp.Width, exp.Height)
	}
	if len(exp.TextBoxes) != 2 {
		t.Fatalf("expected 2 exported boxes, got %+v", exp.TextBoxes)
	}
	first := exp.TextBoxes[0]
	if first.X != 10 || first.Y != 10 || first.Text != "hello" {
		t.Fatalf("unexpected exported box: %+v", first)
	}
	if exp.TextBoxes[1].Text != "" {
		t.Fatalf("placeholder must export as empty text")
	}
}

// TestDecodeCommand 验证 JSON 命令解析。
func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand("drag_text_box", json.RawMessage(`{"id":3,"display":{"x":1.5,"y":2}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, ok := cmd.(DragTextBox); !ok || got.ID != 3 || got.Display != (Point{1.5, 2}) {
		t.Fatalf("unexpected command: %#v", cmd)
	}
	if cmd, _ := DecodeCommand("undo", nil); CommandKind(cmd) != "undo" {
		t.Fatalf("expected undo")
	}
	if _, err := DecodeCommand("fly", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if _, err := DecodeCommand("select_tool", json.RawMessage(`{`)); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
