package timeline

import (
	"context"
	"testing"

	"grape-notebook/server/internal/model"
)

// TestAppendAssignsSeq 验证 Append 为每个对话独立分配递增 seq。
// 场景：两个对话交替追加事件。
func TestAppendAssignsSeq(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seq1, err := store.Append(ctx, "u1/2024-05-01/morning", &model.Event{Type: model.EventGreeting})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	other, _ := store.Append(ctx, "u2/2024-05-01/morning", &model.Event{Type: model.EventGreeting})
	seq2, _ := store.Append(ctx, "u1/2024-05-01/morning", &model.Event{Type: model.EventUserMessage, Text: "안녕"})

	if seq1 != 1 || seq2 != 2 || other != 1 {
		t.Fatalf("unexpected seqs: %d %d %d", seq1, seq2, other)
	}
}

// TestAppendIdempotentByEventID 验证相同 EventID 重复写入只保存一次。
// 场景：客户端重试同一条消息。
func TestAppendIdempotentByEventID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seq1, _ := store.Append(ctx, "c1", &model.Event{Type: model.EventUserMessage, EventID: "evt-1"})
	seq2, err := store.Append(ctx, "c1", &model.Event{Type: model.EventUserMessage, EventID: "evt-1"})
	if err != nil {
		t.Fatalf("append duplicate event: %v", err)
	}
	if seq1 != seq2 {
		t.Fatalf("expected same seq for duplicate event_id, got %d vs %d", seq1, seq2)
	}

	events, _ := store.Since(ctx, "c1", 0)
	if len(events) != 1 {
		t.Fatalf("expected 1 event stored, got %d", len(events))
	}
	if events[0].ConversationID != "c1" {
		t.Fatalf("expected conversation id to be filled")
	}
}

// TestAppendGeneratesEventID 验证没有 EventID 的事件会获得唯一 ID。
func TestAppendGeneratesEventID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	store.Append(ctx, "c1", &model.Event{Type: model.EventGreeting})
	store.Append(ctx, "c1", &model.Event{Type: model.EventGreeting})
	events, _ := store.Since(ctx, "c1", 0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID == "" || events[0].EventID == events[1].EventID {
		t.Fatalf("expected distinct generated ids: %q %q", events[0].EventID, events[1].EventID)
	}
}

// TestSinceReturnsTailCopy 验证 Since 只返回 afterSeq 之后的事件且为副本。
func TestSinceReturnsTailCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		store.Append(ctx, "c1", &model.Event{Type: model.EventUserMessage, Text: text})
	}

	tail, err := store.Since(ctx, "c1", 1)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(tail) != 2 || tail[0].Text != "b" {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	tail[0].Text = "mutated"
	again, _ := store.Since(ctx, "c1", 0)
	if again[1].Text != "b" {
		t.Fatalf("expected internal state unchanged, got %q", again[1].Text)
	}

	none, _ := store.Since(ctx, "missing", 0)
	if len(none) != 0 {
		t.Fatalf("expected no events for unknown conversation")
	}
}

// TestDeleteDropsConversationLog 验证删除后日志清空，seq 重新从 1 开始，其他对话不受影响。
func TestDeleteDropsConversationLog(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	store.Append(ctx, "c1", &model.Event{Type: model.EventGreeting, EventID: "g1"})
	store.Append(ctx, "c1", &model.Event{Type: model.EventUserMessage, Text: "안녕"})
	store.Append(ctx, "c2", &model.Event{Type: model.EventGreeting})

	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if events, _ := store.Since(ctx, "c1", 0); len(events) != 0 {
		t.Fatalf("expected empty log after delete, got %d events", len(events))
	}
	if store.Len() != 1 {
		t.Fatalf("expected only c2 to remain, got %d logs", store.Len())
	}

	// 旧的 EventID 不再被视为重复
	seq, _ := store.Append(ctx, "c1", &model.Event{Type: model.EventGreeting, EventID: "g1"})
	if seq != 1 {
		t.Fatalf("expected seq to restart at 1, got %d", seq)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting an unknown conversation should succeed: %v", err)
	}
}
