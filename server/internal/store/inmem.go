package store

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	key    Key
	fields Fields
}

// InMemoryStore 是一个基于内存的记录存储实现。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]entry
}

func NewInMemoryStore() *InMemoryStore {
	// 重启即丢数据；多实例部署使用 mongo 或 redis 驱动。
	return &InMemoryStore{data: make(map[string]entry)}
}

// Get 读取记录，返回副本。
func (s *InMemoryStore) Get(_ context.Context, key Key) (Fields, error) {
	s.mu.RLock()
	e, ok := s.data[key.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return normalize(e.fields)
}

// Put 保存或合并记录。
func (s *InMemoryStore) Put(_ context.Context, key Key, fields Fields, merge bool) error {
	norm, err := normalize(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := key.String()
	if existing, ok := s.data[path]; ok && merge {
		for k, v := range norm {
			existing.fields[k] = v
		}
		return nil
	}
	s.data[path] = entry{key: key, fields: norm}
	return nil
}

// List 按路径排序返回满足条件的记录。
func (s *InMemoryStore) List(_ context.Context, q Query) ([]Document, error) {
	s.mu.RLock()
	var out []Document
	for _, e := range s.data {
		if !q.matches(e.key, e.fields) {
			continue
		}
		f, err := normalize(e.fields)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, Document{Key: e.key, Fields: f})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out, nil
}

// Len 返回记录条数，测试使用。
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
