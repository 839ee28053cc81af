package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisPrefix = "grapenote:"

// RedisStore 每条记录是一个 hash，字段值为 JSON；每个集合维护一个路径索引 set。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 解析连接串、配置连接池并验证连接。
func NewRedisStore(ctx context.Context, redisURL string, log *logrus.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if log != nil {
		log.WithField("addr", opts.Addr).Info("connected to Redis")
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient 复用已有客户端。
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close 关闭连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(key Key) string {
	return redisPrefix + key.String()
}

func redisIndex(c Collection) string {
	return redisPrefix + "idx:" + string(c)
}

// Get 读取记录
func (s *RedisStore) Get(ctx context.Context, key Key) (Fields, error) {
	raw, err := s.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(raw)
}

// Put 合并时直接 HSET；替换时在事务里先 DEL 再 HSET。
func (s *RedisStore) Put(ctx context.Context, key Key, fields Fields, merge bool) error {
	values, err := encodeHash(fields)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if !merge {
		pipe.Del(ctx, redisKey(key))
	}
	if len(values) > 0 {
		pipe.HSet(ctx, redisKey(key), values)
	}
	pipe.SAdd(ctx, redisIndex(key.Collection), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

// List 遍历集合索引，批量取回后在本地筛选。
func (s *RedisStore) List(ctx context.Context, q Query) ([]Document, error) {
	paths, err := s.client.SMembers(ctx, redisIndex(q.Collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", q.Collection, err)
	}
	sort.Strings(paths)

	keys := make([]Key, 0, len(paths))
	for _, p := range paths {
		key, err := ParseKey(p)
		if err != nil {
			continue
		}
		if q.StudentID != "" && key.StudentID != q.StudentID {
			continue
		}
		keys = append(keys, key)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, redisKey(key))
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis list %s: %w", q.Collection, err)
		}
	}

	var out []Document
	for i, key := range keys {
		raw := cmds[i].Val()
		if len(raw) == 0 {
			continue
		}
		f, err := decodeHash(raw)
		if err != nil {
			return nil, err
		}
		if !q.matches(key, f) {
			continue
		}
		out = append(out, Document{Key: key, Fields: f})
	}
	return out, nil
}

func encodeHash(fields Fields) (map[string]any, error) {
	norm, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(norm))
	for k, v := range norm {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		values[k] = string(data)
	}
	return values, nil
}

func decodeHash(raw map[string]string) (Fields, error) {
	f := make(Fields, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", k, err)
		}
		f[k] = val
	}
	return f, nil
}
