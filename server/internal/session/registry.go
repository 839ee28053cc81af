package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"grape-notebook/server/internal/canvas"
	"grape-notebook/server/internal/checkin"
	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/metrics"
	"grape-notebook/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// Options 注册表参数，零值使用默认。
type Options struct {
	MaxInactive     time.Duration
	CleanupInterval time.Duration
	Canvas          canvas.Config
	Metrics         *metrics.Metrics
	Log             logrus.FieldLogger
}

// Registry 保存活跃的签到对话与画布。
// 每次访问都会续期，超过 MaxInactive 未访问的条目被丢弃；被丢弃的对话会关闭，
// 之后才到达的补全结果不再生效，时间线日志一并删除。
type Registry struct {
	deps  checkin.Deps
	opts  Options
	log   logrus.FieldLogger
	convs *cache.Cache
	// opening 按对话合并并发的打开请求，不同对话互不等待
	opening singleflight.Group
	// gens 记录每个对话最近一次打开的代数，旧代的淘汰不能删除新代的日志
	genMu    sync.Mutex
	genSeq   uint64
	gens     map[string]uint64
	canvas   *cache.Cache
	canvasMu sync.Mutex
}

// entry 是缓存中的一个对话及其打开代数
type entry struct {
	conv *checkin.Conversation
	gen  uint64
}

func NewRegistry(deps checkin.Deps, opts Options) *Registry {
	if opts.MaxInactive <= 0 {
		opts.MaxInactive = 30 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 10 * time.Minute
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	r := &Registry{
		deps:   deps,
		opts:   opts,
		log:    opts.Log,
		convs:  cache.New(opts.MaxInactive, opts.CleanupInterval),
		gens:   make(map[string]uint64),
		canvas: cache.New(opts.MaxInactive, opts.CleanupInterval),
	}
	r.convs.OnEvicted(r.evicted)
	return r
}

// evicted 关闭被丢弃的对话并删除它的时间线。
// 清理协程在移出条目之后才回调，此时同一对话可能已经重新打开。
func (r *Registry) evicted(id string, v any) {
	e, ok := v.(entry)
	if !ok {
		return
	}
	e.conv.Close()

	r.genMu.Lock()
	defer r.genMu.Unlock()
	if r.gens[id] != e.gen {
		r.log.WithField("conversation", id).Debug("conversation dropped, reopened since")
		return
	}
	delete(r.gens, id)
	if r.deps.Timeline != nil {
		if err := r.deps.Timeline.Delete(context.Background(), id); err != nil {
			r.log.WithError(err).WithField("conversation", id).Warn("delete timeline failed")
		}
	}
	r.log.WithField("conversation", id).Debug("conversation dropped")
}

// nextGen 在打开新对话之前调用
func (r *Registry) nextGen(id string) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	r.genSeq++
	r.gens[id] = r.genSeq
	return r.genSeq
}

func (r *Registry) abandonGen(id string, gen uint64) {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	if r.gens[id] == gen {
		delete(r.gens, id)
	}
}

// Conversation 返回已打开的对话，不存在时打开一个新的。
func (r *Registry) Conversation(ctx context.Context, key model.CheckinKey) (*checkin.Conversation, error) {
	if conv, ok := r.Lookup(key); ok {
		return conv, nil
	}

	id := key.String()
	// 共享的打开过程不随某一个请求取消
	openCtx := context.WithoutCancel(ctx)
	v, err, _ := r.opening.Do(id, func() (any, error) {
		if conv, ok := r.Lookup(key); ok {
			return conv, nil
		}
		// 已过期但尚未清理的旧对话先关闭
		r.convs.Delete(id)
		gen := r.nextGen(id)
		conv, err := checkin.Open(openCtx, r.deps, key)
		if err != nil {
			r.abandonGen(id, gen)
			return nil, err
		}
		r.convs.SetDefault(id, entry{conv: conv, gen: gen})
		r.log.WithField("conversation", id).Info("conversation opened")
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*checkin.Conversation), nil
}

// Lookup 只查找不创建，命中时续期。
func (r *Registry) Lookup(key model.CheckinKey) (*checkin.Conversation, bool) {
	id := key.String()
	v, ok := r.convs.Get(id)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	r.convs.SetDefault(id, e)
	return e.conv, true
}

// Drop 关闭并移除对话。
func (r *Registry) Drop(key model.CheckinKey) {
	r.convs.Delete(key.String())
}

// Canvas 返回学生当前的画布，不存在时新建。
func (r *Registry) Canvas(studentID string) *canvas.Controller {
	r.canvasMu.Lock()
	defer r.canvasMu.Unlock()
	if v, ok := r.canvas.Get(studentID); ok {
		ctrl := v.(*canvas.Controller)
		r.canvas.SetDefault(studentID, ctrl)
		return ctrl
	}
	ctrl := canvas.New(r.opts.Canvas, r.opts.Metrics)
	r.canvas.SetDefault(studentID, ctrl)
	return ctrl
}

// LookupCanvas 只查找不创建。
func (r *Registry) LookupCanvas(studentID string) (*canvas.Controller, error) {
	v, ok := r.canvas.Get(studentID)
	if !ok {
		return nil, ErrNotFound
	}
	ctrl := v.(*canvas.Controller)
	r.canvas.SetDefault(studentID, ctrl)
	return ctrl, nil
}

// ResetCanvas 丢弃旧画布并新建一个。
func (r *Registry) ResetCanvas(studentID string) *canvas.Controller {
	r.canvasMu.Lock()
	defer r.canvasMu.Unlock()
	ctrl := canvas.New(r.opts.Canvas, r.opts.Metrics)
	r.canvas.SetDefault(studentID, ctrl)
	return ctrl
}

// Counts 返回活跃对话与画布数量。
func (r *Registry) Counts() (conversations, canvases int) {
	return r.convs.ItemCount(), r.canvas.ItemCount()
}

// Flush 关闭所有对话，停机时调用。
func (r *Registry) Flush() {
	for id := range r.convs.Items() {
		r.convs.Delete(id)
	}
	r.canvas.Flush()
}
