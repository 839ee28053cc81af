package checkin

// Command 是签到对话可以接收的命令。
type Command interface {
	commandKind() string
}

// SendMessage 用户发送一条消息。EventID 用于重试去重，可为空。
type SendMessage struct {
	Text    string
	EventID string
}

// TypeSummary 更新总结句。
type TypeSummary struct{ Text string }

// SelectMarker 从面板中选择情绪标记。
type SelectMarker struct{ Marker string }

// AddCustomMarker 添加并选中自定义标记。
type AddCustomMarker struct{ Marker string }

// Submit 提交总结句与标记。
type Submit struct{}

// Restart 清空早晨签到重新开始。
type Restart struct{}

func (SendMessage) commandKind() string     { return "send_message" }
func (TypeSummary) commandKind() string     { return "type_summary" }
func (SelectMarker) commandKind() string    { return "select_marker" }
func (AddCustomMarker) commandKind() string { return "add_custom_marker" }
func (Submit) commandKind() string          { return "submit" }
func (Restart) commandKind() string         { return "restart" }

// CommandKind 返回命令名，nil 返回 unknown。
func CommandKind(cmd Command) string {
	if cmd == nil {
		return "unknown"
	}
	return cmd.commandKind()
}

// ParseCommand 把外部传入的 kind + 参数转换为命令。
func ParseCommand(kind, text, marker, eventID string) (Command, error) {
	switch kind {
	case "send_message":
		return SendMessage{Text: text, EventID: eventID}, nil
	case "type_summary":
		return TypeSummary{Text: text}, nil
	case "select_marker":
		return SelectMarker{Marker: marker}, nil
	case "add_custom_marker":
		return AddCustomMarker{Marker: marker}, nil
	case "submit":
		return Submit{}, nil
	case "restart":
		return Restart{}, nil
	}
	return nil, ErrUnknownCommand
}
