package timeline

import (
	"context"

	"grape-notebook/server/internal/model"
)

// Store 是签到对话的事实日志。状态由事件回放得到，日志只追加。
type Store interface {
	// Append 写入一条事件并返回 seq。
	// 同一对话的 seq 单调递增；相同 EventID 重复写入返回首次分配的 seq，不产生新事件。
	// EventID 为空时由存储生成。
	Append(ctx context.Context, conversationID string, evt *model.Event) (int64, error)
	// Since 返回 seq 大于 afterSeq 的事件，afterSeq 为 0 时返回全部。
	Since(ctx context.Context, conversationID string, afterSeq int64) ([]model.Event, error)
	// Delete 丢弃对话的全部事件，之后的 Append 从 seq 1 重新开始。
	Delete(ctx context.Context, conversationID string) error
}
