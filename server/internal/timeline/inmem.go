package timeline

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"grape-notebook/server/internal/model"
)

type conversationLog struct {
	events []model.Event
	byID   map[string]int64
}

// InMemoryStore 按对话分别保存事件。
type InMemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*conversationLog
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{logs: make(map[string]*conversationLog)}
}

// Append 追加事件，seq 即该对话已有事件数 + 1。
func (s *InMemoryStore) Append(_ context.Context, conversationID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[conversationID]
	if log == nil {
		log = &conversationLog{byID: make(map[string]int64)}
		s.logs[conversationID] = log
	}

	if evt.EventID != "" {
		if seq, ok := log.byID[evt.EventID]; ok {
			return seq, nil
		}
	}

	stored := *evt
	if stored.EventID == "" {
		stored.EventID = uuid.NewString()
	}
	stored.Seq = int64(len(log.events)) + 1
	stored.ConversationID = conversationID
	stored.Turns = append([]model.Turn(nil), evt.Turns...)

	log.events = append(log.events, stored)
	log.byID[stored.EventID] = stored.Seq
	return stored.Seq, nil
}

// Since 返回副本，按 seq 升序。
func (s *InMemoryStore) Since(_ context.Context, conversationID string, afterSeq int64) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	if log == nil {
		return nil, nil
	}
	// seq 从 1 开始连续分配，可以直接定位起点
	start := sort.Search(len(log.events), func(i int) bool {
		return log.events[i].Seq > afterSeq
	})
	out := make([]model.Event, len(log.events)-start)
	copy(out, log.events[start:])
	for i := range out {
		out[i].Turns = append([]model.Turn(nil), out[i].Turns...)
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.logs, conversationID)
	s.mu.Unlock()
	return nil
}

// Len 返回仍保存日志的对话数。
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
