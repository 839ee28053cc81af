package canvas

import "encoding/json"

// Command 画布命令。
type Command interface {
	commandKind() string
}

type SelectTool struct {
	Tool Tool `json:"tool"`
}

// StrokeBegin/StrokeMove/StrokeEnd 的坐标都是屏幕坐标。
type StrokeBegin struct {
	Point Point `json:"point"`
}

type StrokeMove struct {
	Point Point `json:"point"`
}

type StrokeEnd struct{}

type PlaceTextBox struct {
	Point Point `json:"point"`
}

type DragTextBox struct {
	ID      int   `json:"id"`
	Display Point `json:"display"`
}

type EditTextBox struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type FocusTextBox struct {
	ID int `json:"id"`
}

type Undo struct{}

type Redo struct{}

type SelectColor struct {
	Hex string `json:"hex"`
}

type AddCustomColor struct {
	Hex string `json:"hex"`
}

type SetPenWidth struct {
	Width float64 `json:"width"`
}

type Reset struct{}

func (SelectTool) commandKind() string     { return "select_tool" }
func (StrokeBegin) commandKind() string    { return "stroke_begin" }
func (StrokeMove) commandKind() string     { return "stroke_move" }
func (StrokeEnd) commandKind() string      { return "stroke_end" }
func (PlaceTextBox) commandKind() string   { return "place_text_box" }
func (DragTextBox) commandKind() string    { return "drag_text_box" }
func (EditTextBox) commandKind() string    { return "edit_text_box" }
func (FocusTextBox) commandKind() string   { return "focus_text_box" }
func (Undo) commandKind() string           { return "undo" }
func (Redo) commandKind() string           { return "redo" }
func (SelectColor) commandKind() string    { return "select_color" }
func (AddCustomColor) commandKind() string { return "add_custom_color" }
func (SetPenWidth) commandKind() string    { return "set_pen_width" }
func (Reset) commandKind() string          { return "reset" }

func CommandKind(cmd Command) string {
	if cmd == nil {
		return "unknown"
	}
	return cmd.commandKind()
}

// DecodeCommand 按 kind 解析 JSON 参数。
func DecodeCommand(kind string, payload json.RawMessage) (Command, error) {
	var cmd Command
	switch kind {
	case "select_tool":
		cmd = &SelectTool{}
	case "stroke_begin":
		cmd = &StrokeBegin{}
	case "stroke_move":
		cmd = &StrokeMove{}
	case "stroke_end":
		return StrokeEnd{}, nil
	case "place_text_box":
		cmd = &PlaceTextBox{}
	case "drag_text_box":
		cmd = &DragTextBox{}
	case "edit_text_box":
		cmd = &EditTextBox{}
	case "focus_text_box":
		cmd = &FocusTextBox{}
	case "undo":
		return Undo{}, nil
	case "redo":
		return Redo{}, nil
	case "select_color":
		cmd = &SelectColor{}
	case "add_custom_color":
		cmd = &AddCustomColor{}
	case "set_pen_width":
		cmd = &SetPenWidth{}
	case "reset":
		return Reset{}, nil
	default:
		return nil, ErrUnknownCommand
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, cmd); err != nil {
			return nil, validation("malformed " + kind + " payload")
		}
	}
	return deref(cmd), nil
}

func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *SelectTool:
		return *c
	case *StrokeBegin:
		return *c
	case *StrokeMove:
		return *c
	case *PlaceTextBox:
		return *c
	case *DragTextBox:
		return *c
	case *EditTextBox:
		return *c
	case *FocusTextBox:
		return *c
	case *SelectColor:
		return *c
	case *AddCustomColor:
		return *c
	case *SetPenWidth:
		return *c
	}
	return cmd
}
