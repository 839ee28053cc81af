package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// Collection 记录所在的集合。
type Collection string

const (
	CollectionEmotions    Collection = "emotions"
	CollectionLessons     Collection = "lessons"
	CollectionSubmissions Collection = "submissions"
	CollectionUsers       Collection = "users"
)

// perStudent 表示集合挂在 students/{uid} 下面。
func (c Collection) perStudent() bool {
	return c == CollectionEmotions || c == CollectionLessons
}

// Key 定位一条记录。
type Key struct {
	Collection Collection
	StudentID  string
	ID         string
}

// EmotionKey students/{uid}/emotions/{date}
func EmotionKey(studentID, date string) Key {
	return Key{Collection: CollectionEmotions, StudentID: studentID, ID: date}
}

// LessonKey students/{uid}/lessons/{date}_{period}
func LessonKey(studentID, date string, period int) Key {
	return Key{Collection: CollectionLessons, StudentID: studentID, ID: fmt.Sprintf("%s_%d", date, period)}
}

// SubmissionKey submissions/{uid}_{date}
func SubmissionKey(studentID, date string) Key {
	return Key{Collection: CollectionSubmissions, StudentID: studentID, ID: studentID + "_" + date}
}

// UserKey users/{uid}
func UserKey(studentID string) Key {
	return Key{Collection: CollectionUsers, StudentID: studentID, ID: studentID}
}

// String 返回记录路径。
func (k Key) String() string {
	if k.Collection.perStudent() {
		return "students/" + k.StudentID + "/" + string(k.Collection) + "/" + k.ID
	}
	return string(k.Collection) + "/" + k.ID
}

// ParseKey 是 String 的逆操作。
func ParseKey(path string) (Key, error) {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 4 && parts[0] == "students":
		k := Key{Collection: Collection(parts[2]), StudentID: parts[1], ID: parts[3]}
		if !k.Collection.perStudent() {
			return Key{}, fmt.Errorf("unknown student collection in %q", path)
		}
		return k, nil
	case len(parts) == 2:
		k := Key{Collection: Collection(parts[0]), ID: parts[1]}
		switch k.Collection {
		case CollectionUsers:
			k.StudentID = k.ID
		case CollectionSubmissions:
			if i := strings.LastIndex(k.ID, "_"); i > 0 {
				k.StudentID = k.ID[:i]
			}
		default:
			return Key{}, fmt.Errorf("unknown collection in %q", path)
		}
		return k, nil
	}
	return Key{}, fmt.Errorf("malformed record path %q", path)
}

// Fields 是一条记录的字段集合，值均为 JSON 可表示的类型。
type Fields map[string]any

// Store 键值记录存储。
type Store interface {
	// Get 读取记录，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key Key) (Fields, error)
	// Put 写入记录；merge 为 true 时只覆盖给出的字段，否则整条替换。
	Put(ctx context.Context, key Key, fields Fields, merge bool) error
}

// Query 在一个集合内筛选记录。
type Query struct {
	Collection Collection
	// StudentID 为空时跨所有学生查询
	StudentID string
	// IDPrefix 按记录 ID 前缀筛选，例如按月份筛选日期
	IDPrefix string
	// Equals 要求字段值（字符串形式）相等
	Equals map[string]string
}

// Document 是 List 返回的一条记录。
type Document struct {
	Key    Key
	Fields Fields
}

// Lister 支持按条件列出记录。
type Lister interface {
	List(ctx context.Context, q Query) ([]Document, error)
}

// RecordStore 同时支持读写与查询。
type RecordStore interface {
	Store
	Lister
}

// ToFields 把结构体编码为字段集合，字段名取 json tag。
func ToFields(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return out, nil
}

// Decode 把字段集合解码到结构体，缺失字段保持零值。
func Decode(f Fields, out any) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	return nil
}

// normalize 经过一次 JSON 往返，得到与后端无关的值表示并断开引用。
func normalize(f Fields) (Fields, error) {
	if f == nil {
		return Fields{}, nil
	}
	return ToFields(f)
}

// matches 判断记录是否满足查询条件。
func (q Query) matches(key Key, f Fields) bool {
	if key.Collection != q.Collection {
		return false
	}
	if q.StudentID != "" && key.StudentID != q.StudentID {
		return false
	}
	if q.IDPrefix != "" && !strings.HasPrefix(key.ID, q.IDPrefix) {
		return false
	}
	for field, want := range q.Equals {
		v, ok := f[field]
		if !ok || v == nil {
			return false
		}
		if fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}
