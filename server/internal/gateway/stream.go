package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/checkin"
	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/metrics"
	"grape-notebook/server/internal/model"
)

// StreamConfig 流配置
type StreamConfig struct {
	RevealInterval time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	// Pacer 控制逐字显示的节奏，测试中替换为即时实现
	Pacer checkin.Pacer
	// ResumeAfter 为客户端已收到的最后一个时间线序号，0 表示从完整状态开始
	ResumeAfter int64
	// OutboxSize 下行缓冲长度
	OutboxSize int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.RevealInterval <= 0 {
		c.RevealInterval = 30 * time.Millisecond
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Pacer == nil {
		c.Pacer = checkin.TimerPacer{}
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutboxSize
	}
	return c
}

// 下行缓冲，观察者不能阻塞对话
const defaultOutboxSize = 256

type outbound struct {
	evt   model.Event
	state model.CheckinState
}

// Stream 把一个签到对话接到一条 WebSocket 连接上。
//
// 上行：文本帧解析为命令，经 EventQueue 串行执行。
// 下行：对话的每条事实按顺序推送；助手轮次先逐字推送 reveal 帧，再推送完整的 turn 帧。
// 缓冲溢出后丢弃的事实由一帧新的 state 补齐。
type Stream struct {
	conv    *checkin.Conversation
	conn    *websocket.Conn
	connMu  sync.Mutex
	seq     int64
	cfg     StreamConfig
	queue   *EventQueue
	outbox  chan outbound
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	// sentSeq 已推送到的时间线序号，Run 启动写循环后只由 writeLoop 访问
	sentSeq int64
	resync  atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	unsub     func()
}

// NewStream 创建流，调用 Run 后开始收发
func NewStream(conn *websocket.Conn, conv *checkin.Conversation, cfg StreamConfig, log logrus.FieldLogger, m *metrics.Metrics) *Stream {
	if log == nil {
		log = logging.Discard()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		conv:    conv,
		conn:    conn,
		cfg:     cfg,
		outbox:  make(chan outbound, cfg.OutboxSize),
		log:     log.WithField("conversation", conv.Key().String()),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.queue = NewEventQueue(conv.Key().String(), s.handleCommand, s.log, m)
	return s
}

// Run 发送当前状态并启动读写循环，阻塞直到连接关闭
func (s *Stream) Run() {
	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	// 先订阅再取快照，快照之后的事实都会进入 outbox
	s.unsub = s.conv.Subscribe(s.observe)
	if err := s.catchUp(); err != nil {
		s.log.WithError(err).Warn("send initial state failed")
		s.Close()
		return
	}

	go s.writeLoop()
	go s.pingLoop()
	go s.readLoop()

	<-s.done
}

// Done 连接关闭后返回
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// catchUp 补发客户端缺失的事实。
// 能从时间线续传时只推送 ResumeAfter 之后的事实，否则推送完整状态。
func (s *Stream) catchUp() error {
	state, lastSeq := s.conv.Snapshot()
	defer func() { s.sentSeq = lastSeq }()

	after := s.cfg.ResumeAfter
	if after > 0 && after <= lastSeq {
		missed, err := s.conv.History(s.ctx, after)
		if err != nil {
			s.log.WithError(err).Warn("read timeline failed, sending full state")
		} else if resumable(missed, after, lastSeq) {
			for _, evt := range missed {
				if evt.Seq > lastSeq {
					break
				}
				if err := s.push(outbound{evt: evt, state: state}, false); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return s.sendState(state, lastSeq)
}

// resumable 判断时间线是否从 after 起连续覆盖到 lastSeq
func resumable(missed []model.Event, after, lastSeq int64) bool {
	if after == lastSeq {
		return true
	}
	return len(missed) > 0 && missed[0].Seq == after+1
}

func (s *Stream) sendState(state model.CheckinState, lastSeq int64) error {
	return s.send(&ServerMessage{Type: MessageState, EventSeq: lastSeq, State: &state})
}

// observe 在对话提交事实时被同步调用
func (s *Stream) observe(evt model.Event, state model.CheckinState) {
	select {
	case s.outbox <- outbound{evt: evt, state: state}:
	default:
		s.resync.Store(true)
		s.log.WithField("event_type", evt.Type).Warn("outbox full, client will resync")
	}
}

// readLoop 读取客户端命令
func (s *Stream) readLoop() {
	defer s.Close()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("client read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}
		if msg.ClientTS.IsZero() {
			msg.ClientTS = time.Now()
		}
		s.metrics.StreamMessage(msg.Type, "inbound")

		if err := s.queue.Enqueue(&msg); err != nil {
			s.sendError(err.Error())
		}
	}
}

// handleCommand 在队列线程中执行命令
func (s *Stream) handleCommand(ctx context.Context, msg *ClientMessage) error {
	cmd, err := checkin.ParseCommand(msg.Type, msg.Text, msg.Marker, msg.EventID)
	if err != nil {
		s.sendError(err.Error())
		return err
	}
	if _, err := s.conv.Apply(ctx, cmd); err != nil {
		if errors.Is(err, model.ErrValidation) {
			s.sendError(err.Error())
		} else {
			s.sendError("command failed, please try again")
		}
		return err
	}
	return nil
}

// writeLoop 按顺序推送事实
func (s *Stream) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case out := <-s.outbox:
			// 已经包含在发出的状态或续传里
			if out.evt.Seq != 0 && out.evt.Seq <= s.sentSeq {
				continue
			}
			err := s.push(out, true)
			if err == nil {
				s.sentSeq = max(s.sentSeq, out.evt.Seq)
				if s.resync.CompareAndSwap(true, false) {
					state, lastSeq := s.conv.Snapshot()
					err = s.sendState(state, lastSeq)
					s.sentSeq = lastSeq
				}
			}
			if err != nil {
				s.log.WithError(err).Debug("push failed")
				s.Close()
				return
			}
		}
	}
}

// push 推送一条事实，reveal 为 false 时助手轮次直接推送完整文本
func (s *Stream) push(out outbound, reveal bool) error {
	evt := out.evt
	switch evt.Type {
	case model.EventGreeting, model.EventAssistantText, model.EventEmotionPrompt:
		if evt.Text == "" {
			break
		}
		if !reveal {
			return s.send(&ServerMessage{Type: MessageTurn, EventSeq: evt.Seq, Role: model.RoleAssistant, Text: evt.Text, State: &out.state})
		}
		var sendErr error
		checkin.Reveal(s.ctx, evt.Text, s.cfg.RevealInterval, s.cfg.Pacer, func(prefix string) {
			if sendErr != nil || prefix == evt.Text {
				return
			}
			sendErr = s.send(&ServerMessage{Type: MessageReveal, EventSeq: evt.Seq, Role: model.RoleAssistant, Text: prefix})
		})
		if sendErr != nil {
			return sendErr
		}
		return s.send(&ServerMessage{Type: MessageTurn, EventSeq: evt.Seq, Role: model.RoleAssistant, Text: evt.Text, State: &out.state})
	case model.EventUserMessage, model.EventSubmitted:
		return s.send(&ServerMessage{Type: MessageTurn, EventSeq: evt.Seq, Role: model.RoleUser, Text: evt.Text, State: &out.state})
	}
	return s.send(&ServerMessage{Type: MessageEvent, EventSeq: evt.Seq, Event: &evt, State: &out.state})
}

// send 发送消息给客户端
func (s *Stream) send(msg *ServerMessage) error {
	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.seq++
	msg.Seq = s.seq
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}
	if s.conn == nil {
		return errors.New("client connection is closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	s.metrics.StreamMessage(string(msg.Type), "outbound")
	return nil
}

func (s *Stream) sendError(errMsg string) {
	if err := s.send(&ServerMessage{Type: MessageError, Error: errMsg}); err != nil {
		s.log.WithError(err).Debug("send error frame failed")
	}
}

// pingLoop 定期发送 ping 保持连接
func (s *Stream) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				_ = s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			}
			s.connMu.Unlock()
		}
	}
}

// Close 关闭连接与队列；对话本身留在注册表中，可以重新连接
func (s *Stream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		s.cancel()
		_ = s.queue.Close()

		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			closeErr = s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		close(s.done)
		s.log.Debug("stream closed")
	})
	return closeErr
}
