package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestKeyPaths 验证记录路径与解析互逆。
func TestKeyPaths(t *testing.T) {
	cases := []struct {
		key  Key
		path string
	}{
		{EmotionKey("u1", "2024-05-01"), "students/u1/emotions/2024-05-01"},
		{LessonKey("u1", "2024-05-01", 3), "students/u1/lessons/2024-05-01_3"},
		{SubmissionKey("u1", "2024-05-01"), "submissions/u1_2024-05-01"},
		{UserKey("u1"), "users/u1"},
	}
	for _, c := range cases {
		if got := c.key.String(); got != c.path {
			t.Fatalf("expected %s, got %s", c.path, got)
		}
		parsed, err := ParseKey(c.path)
		if err != nil {
			t.Fatalf("parse %s: %v", c.path, err)
		}
		if parsed != c.key {
			t.Fatalf("expected %+v, got %+v", c.key, parsed)
		}
	}
	if _, err := ParseKey("students/u1/unknown/x"); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
}

// TestInMemoryMergeAndReplace 验证合并写只覆盖给出的字段，替换写清空其余字段。
// 场景：先写早晨签到，再合并放学签到，最后整条替换。
func TestInMemoryMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	key := EmotionKey("u1", "2024-05-01")

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, key, Fields{"morningEmotion": "😊", "morningSummary": "좋아"}, true); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, key, Fields{"closingEmotion": "😴"}, true); err != nil {
		t.Fatalf("merge: %v", err)
	}
	f, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f["morningEmotion"] != "😊" || f["closingEmotion"] != "😴" {
		t.Fatalf("merge lost fields: %v", f)
	}

	if err := s.Put(ctx, key, Fields{"closingEmotion": "😡"}, false); err != nil {
		t.Fatalf("replace: %v", err)
	}
	f, _ = s.Get(ctx, key)
	if _, ok := f["morningEmotion"]; ok {
		t.Fatalf("replace should drop old fields: %v", f)
	}
}

// TestInMemoryReturnsCopies 验证调用方修改返回值不会影响存储。
func TestInMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	key := UserKey("u1")
	in := Fields{"displayName": "민지"}
	s.Put(ctx, key, in, false)
	in["displayName"] = "changed"

	f, _ := s.Get(ctx, key)
	f["displayName"] = "mutated"

	again, _ := s.Get(ctx, key)
	if again["displayName"] != "민지" {
		t.Fatalf("store leaked a reference: %v", again)
	}
}

// TestInMemoryList 验证按学生、ID 前缀与字段值筛选。
func TestInMemoryList(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	s.Put(ctx, EmotionKey("u1", "2024-05-01"), Fields{"submitted": true}, true)
	s.Put(ctx, EmotionKey("u2", "2024-05-02"), Fields{"submitted": true}, true)
	s.Put(ctx, EmotionKey("u1", "2024-06-01"), Fields{"submitted": true}, true)
	s.Put(ctx, LessonKey("u1", "2024-05-01", 1), Fields{"subject": "국어", "period": 1}, true)
	s.Put(ctx, LessonKey("u1", "2024-05-01", 2), Fields{"subject": "수학", "period": 2}, true)

	docs, err := s.List(ctx, Query{Collection: CollectionEmotions, IDPrefix: "2024-05"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 may records, got %d", len(docs))
	}

	docs, _ = s.List(ctx, Query{Collection: CollectionLessons, StudentID: "u1", Equals: map[string]string{"subject": "수학"}})
	if len(docs) != 1 || docs[0].Key.ID != "2024-05-01_2" {
		t.Fatalf("unexpected lesson filter result: %+v", docs)
	}

	docs, _ = s.List(ctx, Query{Collection: CollectionLessons, Equals: map[string]string{"period": "1"}})
	if len(docs) != 1 {
		t.Fatalf("expected numeric field to match its string form, got %d", len(docs))
	}
}

// TestDecodeRoundTrip 验证结构体与字段集合互转，缺失字段保持零值。
func TestDecodeRoundTrip(t *testing.T) {
	type record struct {
		Date  string    `json:"date"`
		When  time.Time `json:"when"`
		Items []string  `json:"items"`
		Score int       `json:"score"`
	}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f, err := ToFields(record{Date: "2024-05-01", When: now, Items: []string{"a"}})
	if err != nil {
		t.Fatalf("to fields: %v", err)
	}
	delete(f, "score")

	var out record
	if err := Decode(f, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.When.Equal(now) || out.Date != "2024-05-01" || len(out.Items) != 1 || out.Score != 0 {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}

// TestCachedStoreInvalidatesOnPut 验证写入后缓存失效。
func TestCachedStoreInvalidatesOnPut(t *testing.T) {
	ctx := context.Background()
	backend := NewInMemoryStore()
	s := NewCachedStore(backend, time.Minute, nil)
	key := UserKey("u1")

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s.Put(ctx, key, Fields{"customName": "하늘"}, true)
	f, _ := s.Get(ctx, key)
	if f["customName"] != "하늘" {
		t.Fatalf("unexpected: %v", f)
	}

	// 绕过缓存直接改后端，缓存仍返回旧值
	backend.Put(ctx, key, Fields{"customName": "바다"}, true)
	f, _ = s.Get(ctx, key)
	if f["customName"] != "하늘" {
		t.Fatalf("expected cached value, got %v", f)
	}

	s.Put(ctx, key, Fields{"customName": "구름"}, true)
	f, _ = s.Get(ctx, key)
	if f["customName"] != "구름" {
		t.Fatalf("expected fresh value after put, got %v", f)
	}
}

// TestRedisHashEncoding 验证 hash 字段的 JSON 编解码。
func TestRedisHashEncoding(t *testing.T) {
	values, err := encodeHash(Fields{"morningChat": []any{map[string]any{"role": "user", "text": "hi"}}, "morningRecorded": true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := map[string]string{}
	for k, v := range values {
		raw[k] = v.(string)
	}
	f, err := decodeHash(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	chat, _ := f["morningChat"].([]any)
	if len(chat) != 1 || f["morningRecorded"] != true {
		t.Fatalf("unexpected decode: %v", f)
	}
}

// TestMongoHelpers 验证库名解析与查询条件构造。
func TestMongoHelpers(t *testing.T) {
	if got := mongoDBName("mongodb://localhost:27017/classroom?authSource=admin"); got != "classroom" {
		t.Fatalf("expected classroom, got %s", got)
	}
	if got := mongoDBName("mongodb://localhost:27017"); got != "grapenote" {
		t.Fatalf("expected default db, got %s", got)
	}
	filter := mongoFilter(Query{Collection: CollectionEmotions, StudentID: "u1", IDPrefix: "2024-05", Equals: map[string]string{"date": "2024-05-01"}})
	if filter[mongoStudentField] != "u1" || filter["date"] != "2024-05-01" {
		t.Fatalf("unexpected filter: %v", filter)
	}
}
