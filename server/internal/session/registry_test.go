package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"grape-notebook/server/internal/canvas"
	"grape-notebook/server/internal/checkin"
	"grape-notebook/server/internal/domain"
	"grape-notebook/server/internal/llm"
	"grape-notebook/server/internal/model"
	"grape-notebook/server/internal/store"
	"grape-notebook/server/internal/timeline"
)

func newRegistry(t *testing.T, inactive time.Duration) *Registry {
	t.Helper()
	deps := checkin.Deps{
		Store: store.NewInMemoryStore(),
		LLM:   llm.NewMockClient("좋아요"),
		Pacer: &checkin.InstantPacer{},
	}
	return NewRegistry(deps, Options{
		MaxInactive:     inactive,
		CleanupInterval: 5 * time.Millisecond,
		Canvas:          canvas.Config{Width: 200, Height: 100},
	})
}

var morning = model.CheckinKey{StudentID: "u1", Date: "2024-05-01", Variant: model.VariantMorning}

// TestConversationReused 验证同一个键返回同一个对话。
func TestConversationReused(t *testing.T) {
	r := newRegistry(t, time.Minute)
	ctx := context.Background()

	a, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a != b {
		t.Fatalf("expected the same conversation")
	}

	closing := morning
	closing.Variant = model.VariantClosing
	c, err := r.Conversation(ctx, closing)
	if err != nil {
		t.Fatalf("open closing: %v", err)
	}
	if c == a {
		t.Fatalf("variants must not share a conversation")
	}
	if convs, _ := r.Counts(); convs != 2 {
		t.Fatalf("expected 2 conversations, got %d", convs)
	}
}

// TestConversationOpenRejectsBadKey 验证非法键不会进入注册表。
func TestConversationOpenRejectsBadKey(t *testing.T) {
	r := newRegistry(t, time.Minute)
	_, err := r.Conversation(context.Background(), model.CheckinKey{StudentID: "u1", Date: "2024-05-01", Variant: "noon"})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if convs, _ := r.Counts(); convs != 0 {
		t.Fatalf("registry should stay empty")
	}
}

// TestDropClosesConversation 验证移除后的对话拒绝新命令。
func TestDropClosesConversation(t *testing.T) {
	r := newRegistry(t, time.Minute)
	ctx := context.Background()
	conv, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r.Drop(morning)

	if _, ok := r.Lookup(morning); ok {
		t.Fatalf("dropped conversation still registered")
	}
	if _, err := conv.Apply(ctx, checkin.SendMessage{Text: "안녕"}); !errors.Is(err, checkin.ErrConversationClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

// TestInactiveConversationExpires 验证超过空闲时间后对话被丢弃并关闭。
func TestInactiveConversationExpires(t *testing.T) {
	r := newRegistry(t, 20*time.Millisecond)
	ctx := context.Background()
	conv, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := conv.Apply(ctx, checkin.TypeSummary{Text: "x"})
		if errors.Is(err, checkin.ErrConversationClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation was not closed after expiry, last error %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	again, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again == conv {
		t.Fatalf("expected a fresh conversation after expiry")
	}
}

// TestCanvasLifecycle 验证画布按学生复用，重置后是新的画布。
func TestCanvasLifecycle(t *testing.T) {
	r := newRegistry(t, time.Minute)
	if _, err := r.LookupCanvas("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	a := r.Canvas("u1")
	if _, err := a.Apply(canvas.SetPenWidth{Width: 7}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if b := r.Canvas("u1"); b != a {
		t.Fatalf("expected the same canvas")
	}
	got, err := r.LookupCanvas("u1")
	if err != nil || got != a {
		t.Fatalf("lookup: %v", err)
	}

	fresh := r.ResetCanvas("u1")
	if fresh == a || fresh.State().PenWidth != canvas.DefaultPenWidth {
		t.Fatalf("reset should create a new canvas: %+v", fresh.State())
	}
	if r.Canvas("u2") == fresh {
		t.Fatalf("students must not share a canvas")
	}
	if _, canvases := r.Counts(); canvases != 2 {
		t.Fatalf("expected 2 canvases, got %d", canvases)
	}
}

func newTimelineRegistry(t *testing.T, inactive time.Duration) (*Registry, *timeline.InMemoryStore) {
	t.Helper()
	log := timeline.NewInMemoryStore()
	deps := checkin.Deps{
		Store:    store.NewInMemoryStore(),
		LLM:      llm.NewMockClient("좋아요"),
		Timeline: log,
		Pacer:    &checkin.InstantPacer{},
	}
	return NewRegistry(deps, Options{
		MaxInactive:     inactive,
		CleanupInterval: 5 * time.Millisecond,
		Canvas:          canvas.Config{Width: 200, Height: 100},
	}), log
}

// TestDropDeletesTimeline 验证丢弃对话时时间线日志一并删除。
func TestDropDeletesTimeline(t *testing.T) {
	r, log := newTimelineRegistry(t, time.Minute)
	ctx := context.Background()
	conv, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := conv.Apply(ctx, checkin.SendMessage{Text: "피곤해"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	r.Drop(morning)
	events, err := log.Since(ctx, morning.String(), 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(events) != 0 || log.Len() != 0 {
		t.Fatalf("expected timeline deleted, got %d events", len(events))
	}
}

// TestReopenAfterExpiryReplaysLiveState 验证过期后重新打开，时间线只描述新的会话。
// 场景：旧会话已有一轮对话，过期后新会话的日志回放结果必须等于内存状态。
func TestReopenAfterExpiryReplaysLiveState(t *testing.T) {
	r, log := newTimelineRegistry(t, 20*time.Millisecond)
	ctx := context.Background()
	conv, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := conv.Apply(ctx, checkin.SendMessage{Text: "피곤해"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := conv.Apply(ctx, checkin.TypeSummary{Text: "x"})
		if errors.Is(err, checkin.ErrConversationClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
	again, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	state, lastSeq := again.Snapshot()
	events, err := log.Since(ctx, morning.String(), 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 1 || lastSeq != 1 {
		t.Fatalf("expected only the new greeting, got %d events lastSeq=%d", len(events), lastSeq)
	}
	initial := model.CheckinState{
		Key:     morning,
		Phase:   model.PhaseChatting,
		Palette: append([]string(nil), domain.DefaultScript().Markers...),
	}
	if replayed := checkin.Replay(initial, events); !reflect.DeepEqual(replayed, state) {
		t.Fatalf("replay mismatch:\nreplayed=%+v\nlive=%+v", replayed, state)
	}
}

// gatedStore 让指定学生的读取阻塞，直到 release 关闭。
type gatedStore struct {
	store.Store
	student string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	gets    atomic.Int32
}

func (g *gatedStore) Get(ctx context.Context, key store.Key) (store.Fields, error) {
	if key.StudentID == g.student {
		g.gets.Add(1)
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Store.Get(ctx, key)
}

// TestSlowOpenDoesNotBlockOthers 验证一个对话打开缓慢时，其他对话与画布不受影响。
// 场景：同一个键的并发打开只读取一次存储，并拿到同一个对话。
func TestSlowOpenDoesNotBlockOthers(t *testing.T) {
	gated := &gatedStore{
		Store:   store.NewInMemoryStore(),
		student: "slow",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewRegistry(checkin.Deps{
		Store: gated,
		LLM:   llm.NewMockClient("좋아요"),
		Pacer: &checkin.InstantPacer{},
	}, Options{MaxInactive: time.Minute, Canvas: canvas.Config{Width: 200, Height: 100}})
	ctx := context.Background()
	slow := model.CheckinKey{StudentID: "slow", Date: "2024-05-01", Variant: model.VariantMorning}

	type result struct {
		conv *checkin.Conversation
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			conv, err := r.Conversation(ctx, slow)
			results <- result{conv, err}
		}()
	}
	select {
	case <-gated.entered:
	case <-time.After(time.Second):
		t.Fatalf("slow open never reached the store")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.Conversation(ctx, morning); err != nil {
			t.Errorf("open other: %v", err)
		}
		r.Canvas("u2")
		r.ResetCanvas("u2")
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("other conversations blocked behind a slow open")
	}

	time.Sleep(20 * time.Millisecond)
	close(gated.release)
	first, second := <-results, <-results
	if first.err != nil || second.err != nil {
		t.Fatalf("open slow: %v %v", first.err, second.err)
	}
	if first.conv != second.conv {
		t.Fatalf("concurrent opens returned different conversations")
	}
	if n := gated.gets.Load(); n != 1 {
		t.Fatalf("expected one store read, got %d", n)
	}
}

// TestLateEvictionKeepsReopenedTimeline 验证旧对话的淘汰回调晚于重新打开时，不会删除新对话的日志。
// 场景：清理协程先移出过期条目，重新打开写入问候之后才执行回调。
func TestLateEvictionKeepsReopenedTimeline(t *testing.T) {
	r, log := newTimelineRegistry(t, time.Minute)
	ctx := context.Background()
	old, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v, ok := r.convs.Get(morning.String())
	if !ok {
		t.Fatalf("conversation not cached")
	}
	stale := v.(entry)

	// 模拟清理协程：条目已移出，回调尚未执行
	r.convs.OnEvicted(nil)
	r.convs.Delete(morning.String())
	r.convs.OnEvicted(r.evicted)

	fresh, err := r.Conversation(ctx, morning)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if fresh == old {
		t.Fatalf("expected a fresh conversation")
	}
	r.evicted(morning.String(), stale)

	if _, err := old.Apply(ctx, checkin.TypeSummary{Text: "x"}); !errors.Is(err, checkin.ErrConversationClosed) {
		t.Fatalf("stale conversation should be closed, got %v", err)
	}
	events, err := log.Since(ctx, morning.String(), 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(events) != 1 || events[0].Type != model.EventGreeting {
		t.Fatalf("reopened timeline must survive the late eviction, got %d events", len(events))
	}
	if _, err := fresh.Apply(ctx, checkin.SendMessage{Text: "피곤해"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if st := fresh.State(); st.TurnCount != 1 {
		t.Fatalf("fresh conversation should keep reducing: %+v", st)
	}
}
