package model

import (
	"errors"
	"time"
)

// ErrValidation 是所有校验类错误的根，调用方用 errors.Is 判断。
// 校验错误只反馈给用户，不改变任何状态。
var ErrValidation = errors.New("validation failed")

// Role 表示对话轮次的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 表示对话中的一个轮次。序列化字段与已存储的聊天记录保持一致。
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// Variant 区分早晨签到与放学签到。
type Variant string

const (
	VariantMorning Variant = "morning"
	VariantClosing Variant = "closing"
)

// Valid 判断是否为已知的签到类型。
func (v Variant) Valid() bool {
	return v == VariantMorning || v == VariantClosing
}

// Phase 是签到对话的阶段，只能前进；唯一的回退是早晨签到的重新开始。
type Phase string

const (
	PhaseChatting        Phase = "chatting"
	PhaseAwaitingSummary Phase = "awaiting_summary"
	PhaseSubmitted       Phase = "submitted"
)

func (p Phase) rank() int {
	switch p {
	case PhaseChatting:
		return 0
	case PhaseAwaitingSummary:
		return 1
	case PhaseSubmitted:
		return 2
	default:
		return -1
	}
}

// Before 判断 p 是否在 other 之前。
func (p Phase) Before(other Phase) bool {
	return p.rank() < other.rank()
}

// CheckinKey 唯一标识一次签到对话：学生 + 日期 + 类型。
type CheckinKey struct {
	StudentID string  `json:"student_id"`
	Date      string  `json:"date"`
	Variant   Variant `json:"variant"`
}

func (k CheckinKey) String() string {
	return k.StudentID + "/" + k.Date + "/" + string(k.Variant)
}

// CheckinState 保存了一次签到对话的全部状态。
type CheckinState struct {
	Key CheckinKey `json:"key"`
	// 对话的历史轮次，会话内只追加。
	Turns []Turn `json:"turns"`
	// 用户发言次数，驱动阶段切换。
	TurnCount int   `json:"turn_count"`
	Phase     Phase `json:"phase"`

	// 正在编写的总结句，提交前不进入 Turns。
	PendingSummary string `json:"pending_summary"`
	// 当前选中的情绪标记（emoji），互斥选择。
	PendingMarker string `json:"pending_marker"`
	// 可选标记，包含用户临时添加的自定义标记。
	Palette []string `json:"palette"`
}

// CanSubmit 提交按钮是否可用。
func (s *CheckinState) CanSubmit() bool {
	return s.PendingSummary != "" && s.PendingMarker != "" && s.Phase != PhaseSubmitted
}

// PaletteVisible 标记面板只在总结阶段展示。
func (s *CheckinState) PaletteVisible() bool {
	return s.Phase == PhaseAwaitingSummary
}

// Clone 返回深拷贝，避免调用方修改内部切片。
func (s *CheckinState) Clone() CheckinState {
	out := *s
	out.Turns = append([]Turn(nil), s.Turns...)
	out.Palette = append([]string(nil), s.Palette...)
	return out
}

// Event 表示签到时间线中的一个事实事件。
type Event struct {
	// Seq 由后端分配的单调序号，用于回放与幂等。
	Seq int64 `json:"seq,omitempty"`
	// ConversationID 由时间线补齐。
	ConversationID string `json:"conversation_id,omitempty"`
	// EventID 用于去重与重试幂等。
	EventID string `json:"event_id,omitempty"`

	Type   EventType `json:"type"`
	Text   string    `json:"text,omitempty"`
	Marker string    `json:"marker,omitempty"`
	Phase  Phase     `json:"phase,omitempty"`
	// Turns 只在 rehydrated 事件中携带，用于从存储恢复。
	Turns []Turn `json:"turns,omitempty"`

	ServerTS time.Time `json:"server_ts,omitempty"`
}

// EventType 签到事实事件类型。
type EventType string

const (
	EventGreeting       EventType = "greeting"
	EventUserMessage    EventType = "user_message"
	EventAssistantText  EventType = "assistant_text"
	EventEmotionPrompt  EventType = "emotion_prompt"
	EventPhaseChanged   EventType = "phase_changed"
	EventSummaryTyped   EventType = "summary_typed"
	EventMarkerSelected EventType = "marker_selected"
	EventMarkerAdded    EventType = "marker_added"
	EventSubmitted      EventType = "submitted"
	EventRestarted      EventType = "restarted"
	EventRehydrated     EventType = "rehydrated"
)
