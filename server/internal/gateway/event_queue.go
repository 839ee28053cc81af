package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/metrics"
)

var (
	ErrQueueClosed  = errors.New("event queue closed")
	ErrQueueFull    = errors.New("event queue full")
	ErrQueueTimeout = errors.New("timeout waiting for event processing")
)

// EventQueue 为单个对话提供串行命令处理（Actor Model）
// 解决问题：
// 1. 同一对话的命令按到达顺序执行，不会互相打断
// 2. 读循环不被慢命令（补全调用、显示节奏）阻塞
type EventQueue struct {
	conversationID string
	eventHandler   EventHandler
	eventChan      chan *queuedEvent
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	log            logrus.FieldLogger
	metrics        *metrics.Metrics
	timeout        time.Duration

	// 统计信息
	mu    sync.Mutex
	stats QueueStats
}

// QueueStats 队列统计
type QueueStats struct {
	Total     int64 `json:"total_events"`
	Processed int64 `json:"processed_events"`
	Dropped   int64 `json:"dropped_events"`
	Failed    int64 `json:"failed_events"`
	Pending   int   `json:"pending_events"`
	Capacity  int   `json:"queue_capacity"`
}

type queuedEvent struct {
	msg       *ClientMessage
	timestamp time.Time
	resultCh  chan error // 同步调用时等待结果
}

const (
	// 队列容量：超过此值的命令将被拒绝（背压控制）
	defaultQueueCapacity = 100
	// 单条命令的处理超时，包含补全调用与显示节奏
	defaultEventTimeout = 60 * time.Second
)

// NewEventQueue 创建事件队列
func NewEventQueue(conversationID string, handler EventHandler, log logrus.FieldLogger, m *metrics.Metrics) *EventQueue {
	if log == nil {
		log = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	eq := &EventQueue{
		conversationID: conversationID,
		eventHandler:   handler,
		eventChan:      make(chan *queuedEvent, defaultQueueCapacity),
		ctx:            ctx,
		cancel:         cancel,
		log:            log.WithField("conversation", conversationID),
		metrics:        m,
		timeout:        defaultEventTimeout,
	}

	// 启动单线程事件处理器
	eq.wg.Add(1)
	go eq.processLoop()

	eq.log.Debug("event queue created")
	return eq
}

// Enqueue 将命令加入队列（异步，非阻塞）
func (eq *EventQueue) Enqueue(msg *ClientMessage) error {
	select {
	case <-eq.ctx.Done():
		return ErrQueueClosed
	default:
	}

	event := &queuedEvent{msg: msg, timestamp: time.Now()}

	select {
	case eq.eventChan <- event:
		eq.accepted()
		return nil
	default:
		eq.mu.Lock()
		eq.stats.Dropped++
		eq.mu.Unlock()
		eq.log.WithField("type", msg.Type).Warn("queue full, dropping command")
		return ErrQueueFull
	}
}

// EnqueueSync 将命令加入队列并等待处理完成（同步）
func (eq *EventQueue) EnqueueSync(msg *ClientMessage, timeout time.Duration) error {
	select {
	case <-eq.ctx.Done():
		return ErrQueueClosed
	default:
	}

	if timeout == 0 {
		timeout = eq.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	event := &queuedEvent{
		msg:       msg,
		timestamp: time.Now(),
		resultCh:  make(chan error, 1),
	}

	select {
	case eq.eventChan <- event:
		eq.accepted()
	case <-timer.C:
		return ErrQueueTimeout
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}

	select {
	case err := <-event.resultCh:
		return err
	case <-timer.C:
		return ErrQueueTimeout
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}
}

func (eq *EventQueue) accepted() {
	eq.mu.Lock()
	eq.stats.Total++
	eq.mu.Unlock()
	eq.metrics.QueueDepthChanged(1)
}

// processLoop 串行处理命令（单线程）
func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()

	for {
		select {
		case <-eq.ctx.Done():
			eq.drain()
			return
		case event := <-eq.eventChan:
			eq.metrics.QueueDepthChanged(-1)
			if eq.ctx.Err() != nil {
				eq.drain()
				return
			}
			eq.processEvent(event)
		}
	}
}

// drain 丢弃关闭时仍在排队的命令
func (eq *EventQueue) drain() {
	for {
		select {
		case <-eq.eventChan:
			eq.metrics.QueueDepthChanged(-1)
		default:
			return
		}
	}
}

// processEvent 处理单个命令
func (eq *EventQueue) processEvent(event *queuedEvent) {
	startTime := time.Now()
	queueLatency := startTime.Sub(event.timestamp)

	ctx, cancel := context.WithTimeout(eq.ctx, eq.timeout)
	defer cancel()

	err := eq.eventHandler(ctx, event.msg)

	processingTime := time.Since(startTime)
	entry := eq.log.WithFields(logrus.Fields{
		"type":            event.msg.Type,
		"queue_latency":   queueLatency,
		"processing_time": processingTime,
	})
	if err != nil {
		entry.WithError(err).Debug("command failed")
	} else {
		entry.Debug("command processed")
	}

	eq.mu.Lock()
	eq.stats.Processed++
	if err != nil {
		eq.stats.Failed++
	}
	eq.mu.Unlock()

	if event.resultCh != nil {
		select {
		case event.resultCh <- err:
		default:
		}
	}

	if processingTime > eq.timeout/2 {
		entry.Warn("slow command processing")
	}
}

// Close 关闭事件队列，等待正在处理的命令结束
func (eq *EventQueue) Close() error {
	eq.cancel()
	eq.wg.Wait()

	stats := eq.Stats()
	eq.log.WithFields(logrus.Fields{
		"total":     stats.Total,
		"processed": stats.Processed,
		"dropped":   stats.Dropped,
		"failed":    stats.Failed,
	}).Debug("event queue closed")
	return nil
}

// Stats 获取队列统计信息
func (eq *EventQueue) Stats() QueueStats {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	s := eq.stats
	s.Pending = len(eq.eventChan)
	s.Capacity = cap(eq.eventChan)
	return s
}
