package gateway

import (
	"context"
	"time"

	"grape-notebook/server/internal/model"
)

// MessageType 定义了流上传输的消息类型
type MessageType string

const (
	// 服务端下行
	MessageState  MessageType = "state"  // 完整状态（连接建立时）
	MessageReveal MessageType = "reveal" // 助手轮次逐字显示，Text 为当前前缀
	MessageTurn   MessageType = "turn"   // 一个完整轮次
	MessageEvent  MessageType = "event"  // 其他事实（阶段切换、标记、提交等）
	MessageError  MessageType = "error"  // 命令被拒绝或处理失败
)

// ClientMessage 客户端发送的命令（WebSocket 文本帧）
// Type 即命令名：send_message / type_summary / select_marker / add_custom_marker / submit / restart
type ClientMessage struct {
	Type     string    `json:"type"`
	EventID  string    `json:"event_id,omitempty"` // 幂等去重
	Text     string    `json:"text,omitempty"`
	Marker   string    `json:"marker,omitempty"`
	ClientTS time.Time `json:"client_ts,omitempty"`
}

// ServerMessage 服务端发送给客户端的消息
type ServerMessage struct {
	Type MessageType `json:"type"`
	// Seq 连接内单调递增
	Seq int64 `json:"seq"`
	// EventSeq 对应的时间线序号
	EventSeq int64               `json:"event_seq,omitempty"`
	Role     model.Role          `json:"role,omitempty"`
	Text     string              `json:"text,omitempty"`
	Event    *model.Event        `json:"event,omitempty"`
	State    *model.CheckinState `json:"state,omitempty"`
	ServerTS time.Time           `json:"server_ts"`
	Error    string              `json:"error,omitempty"`
}

// EventHandler 处理一条客户端命令
type EventHandler func(ctx context.Context, msg *ClientMessage) error
