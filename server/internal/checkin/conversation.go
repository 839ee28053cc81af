package checkin

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"
	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/domain"
	"grape-notebook/server/internal/llm"
	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/metrics"
	"grape-notebook/server/internal/model"
	"grape-notebook/server/internal/prompt"
	"grape-notebook/server/internal/store"
	"grape-notebook/server/internal/timeline"
)

// SummaryTurns 用户发言达到该次数后进入总结阶段。
const SummaryTurns = 3

// Deps 对话依赖的协作者，零值字段使用默认实现。
type Deps struct {
	Store    store.Store
	LLM      llm.Client
	Timeline timeline.Store
	Script   *domain.Script
	Prompts  *prompt.Builder
	Pacer    Pacer
	Pacing   Pacing
	// Rand 为 nil 时每个对话使用独立的随机源
	Rand    *rand.Rand
	Now     func() time.Time
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Script == nil {
		d.Script = domain.DefaultScript()
	}
	if d.Prompts == nil {
		d.Prompts = prompt.NewBuilder(d.Script)
	}
	if d.Pacer == nil {
		d.Pacer = TimerPacer{}
	}
	if d.Pacing == (Pacing{}) {
		d.Pacing = DefaultPacing()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	return d
}

// Observer 在每条事实被归约后收到事件与最新状态。
type Observer func(evt model.Event, state model.CheckinState)

// Conversation 是一次签到对话。
//
// 职责与契约：
//   - append-first：事实先写 timeline，再归约到内存状态。
//   - 协作者失败时内存状态保持调用前的样子，用户可以重试。
//   - 同一时刻只允许一个修改类命令执行，其余返回 ErrBusy。
type Conversation struct {
	deps Deps
	key  model.CheckinKey
	rng  *rand.Rand
	log  logrus.FieldLogger

	mu        sync.Mutex
	state     model.CheckinState
	lastSeq   int64
	busy      bool
	closed    bool
	seenIDs   map[string]bool
	morning   *model.EmotionRecord
	observers map[int]Observer
	nextObsID int
}

// Open 打开某个学生某天的签到。已经完成的签到从存储恢复为 submitted，否则以问候开场。
func Open(ctx context.Context, deps Deps, key model.CheckinKey) (*Conversation, error) {
	if !key.Variant.Valid() {
		return nil, fmt.Errorf("%w: unknown variant %q", model.ErrValidation, key.Variant)
	}
	if key.StudentID == "" || key.Date == "" {
		return nil, fmt.Errorf("%w: student and date are required", model.ErrValidation)
	}
	deps = deps.withDefaults()

	rec, err := loadEmotion(ctx, deps.Store, key)
	if err != nil {
		return nil, err
	}

	c := &Conversation{
		deps: deps,
		key:  key,
		rng:  deps.Rand,
		log: deps.Log.WithFields(logrus.Fields{
			"student_id": key.StudentID,
			"date":       key.Date,
			"variant":    key.Variant,
		}),
		state: model.CheckinState{
			Key:     key,
			Phase:   model.PhaseChatting,
			Palette: append([]string(nil), deps.Script.Markers...),
		},
		seenIDs:   make(map[string]bool),
		observers: make(map[int]Observer),
	}
	if c.rng == nil {
		h := fnv.New64a()
		h.Write([]byte(key.String()))
		c.rng = rand.New(rand.NewSource(deps.Now().UnixNano() ^ int64(h.Sum64())))
	}
	if key.Variant == model.VariantClosing {
		c.morning = rec
	}

	// 每次打开都是新的会话，旧日志不再对应内存状态
	if deps.Timeline != nil {
		if err := deps.Timeline.Delete(ctx, key.String()); err != nil {
			return nil, fmt.Errorf("reset timeline: %w", err)
		}
	}

	if rec.Recorded(key.Variant) {
		err = c.commit(ctx, rehydrateEvent(key.Variant, rec))
	} else {
		err = c.commit(ctx, model.Event{Type: model.EventGreeting, Text: c.greeting()})
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func loadEmotion(ctx context.Context, s store.Store, key model.CheckinKey) (*model.EmotionRecord, error) {
	f, err := s.Get(ctx, store.EmotionKey(key.StudentID, key.Date))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load emotion record: %w", err)
	}
	var rec model.EmotionRecord
	if err := store.Decode(f, &rec); err != nil {
		return nil, fmt.Errorf("load emotion record: %w", err)
	}
	return &rec, nil
}

func rehydrateEvent(variant model.Variant, rec *model.EmotionRecord) model.Event {
	evt := model.Event{Type: model.EventRehydrated, Phase: model.PhaseSubmitted}
	if variant == model.VariantMorning {
		evt.Turns = rec.MorningChat
		evt.Text = rec.MorningSummary
		evt.Marker = rec.Morning()
	} else {
		evt.Turns = rec.ClosingChat
		evt.Text = rec.ClosingSummary
		evt.Marker = rec.ClosingEmotion
	}
	return evt
}

// Key 返回对话标识。
func (c *Conversation) Key() model.CheckinKey { return c.key }

// State 返回当前状态的副本。
func (c *Conversation) State() model.CheckinState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Snapshot 返回状态副本及其对应的最后一个时间线序号。
func (c *Conversation) Snapshot() (model.CheckinState, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone(), c.lastSeq
}

// History 返回 seq 大于 afterSeq 的事实，没有时间线时返回 nil。
func (c *Conversation) History(ctx context.Context, afterSeq int64) ([]model.Event, error) {
	if c.deps.Timeline == nil {
		return nil, nil
	}
	return c.deps.Timeline.Since(ctx, c.key.String(), afterSeq)
}

// Subscribe 注册观察者，返回取消函数。
func (c *Conversation) Subscribe(fn Observer) func() {
	c.mu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Close 之后到达的补全结果直接丢弃。
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	c.observers = make(map[int]Observer)
	c.mu.Unlock()
}

// Apply 执行一条命令并返回执行后的状态。
func (c *Conversation) Apply(ctx context.Context, cmd Command) (model.CheckinState, error) {
	var err error
	switch cmd := cmd.(type) {
	case SendMessage:
		err = c.sendMessage(ctx, cmd)
	case TypeSummary:
		err = c.typeSummary(ctx, cmd)
	case SelectMarker:
		err = c.selectMarker(ctx, cmd)
	case AddCustomMarker:
		err = c.addCustomMarker(ctx, cmd)
	case Submit:
		err = c.submit(ctx)
	case Restart:
		err = c.restart(ctx)
	default:
		err = ErrUnknownCommand
	}
	c.deps.Metrics.CheckinCommand(CommandKind(cmd), err)
	if err != nil && !errors.Is(err, model.ErrValidation) {
		c.log.WithError(err).WithField("command", CommandKind(cmd)).Warn("check-in command failed")
	}
	return c.State(), err
}

// begin 占用忙碌标记。
func (c *Conversation) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConversationClosed
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

func (c *Conversation) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// commit 依次写入 timeline 并归约，随后通知观察者。
func (c *Conversation) commit(ctx context.Context, evts ...model.Event) error {
	for _, evt := range evts {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		// 关闭后到达的结果既不归约也不写日志
		if closed {
			return nil
		}

		evt.ServerTS = c.deps.Now()
		if c.deps.Timeline != nil {
			seq, err := c.deps.Timeline.Append(ctx, c.key.String(), &evt)
			if err != nil {
				return fmt.Errorf("append timeline: %w", err)
			}
			evt.Seq = seq
		}
		evt.ConversationID = c.key.String()

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		// 重复事件已经归约过
		if evt.Seq != 0 && evt.Seq <= c.lastSeq {
			c.mu.Unlock()
			continue
		}
		if evt.Seq != 0 {
			c.lastSeq = evt.Seq
		}
		Reduce(&c.state, evt)
		snapshot := c.state.Clone()
		observers := make([]Observer, 0, len(c.observers))
		for _, fn := range c.observers {
			observers = append(observers, fn)
		}
		c.mu.Unlock()

		for _, fn := range observers {
			fn(evt, snapshot)
		}
	}
	return nil
}

func (c *Conversation) greeting() string {
	return c.deps.Script.Greeting(c.rng, c.key.Variant, c.morning)
}

func (c *Conversation) sendMessage(ctx context.Context, cmd SendMessage) error {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return ErrEmptyMessage
	}
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	duplicate := cmd.EventID != "" && c.seenIDs[cmd.EventID]
	st := c.state.Clone()
	c.mu.Unlock()
	if duplicate {
		return nil
	}

	switch st.Phase {
	case model.PhaseAwaitingSummary:
		// 总结阶段的输入只更新总结句，不进入对话
		return c.commit(ctx, model.Event{Type: model.EventSummaryTyped, Text: text})
	case model.PhaseSubmitted:
		return ErrAlreadySubmitted
	}
	if st.TurnCount >= SummaryTurns {
		return ErrWrongPhase
	}

	turn := st.TurnCount + 1
	req := prompt.Request{
		Variant:       c.key.Variant,
		Stage:         prompt.StageForTurn(turn),
		MorningMarker: c.morning.Morning(),
	}
	p, err := c.deps.Prompts.Build(req)
	if err == nil {
		err = c.deps.Prompts.Validate(p)
	}
	if err != nil {
		c.log.WithError(err).Warn("prompt build failed, using fallback")
		p = c.deps.Prompts.Fallback(req)
	}

	messages := make([]llm.Message, 0, len(st.Turns)+1)
	for _, t := range st.Turns {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	started := time.Now()
	reply, err := c.deps.LLM.Complete(ctx, messages, p.Instructions)
	c.deps.Metrics.ObserveCompletion(started, err)
	if err != nil {
		// 用户这一轮不计入，道歉后可以重新发送
		c.log.WithError(err).WithField("turn", turn).Warn("completion failed")
		return c.commit(context.WithoutCancel(ctx), model.Event{Type: model.EventAssistantText, Text: c.deps.Script.Apology})
	}

	follow := context.WithoutCancel(ctx)
	if err := c.commit(follow,
		model.Event{Type: model.EventUserMessage, Text: text, EventID: cmd.EventID},
		model.Event{Type: model.EventAssistantText, Text: reply},
	); err != nil {
		return err
	}
	if cmd.EventID != "" {
		c.mu.Lock()
		c.seenIDs[cmd.EventID] = true
		c.mu.Unlock()
	}
	if turn < SummaryTurns {
		return nil
	}

	// ctx 结束时跳过等待，但阶段切换照常完成
	c.deps.Pacer.Wait(ctx, c.deps.Pacing.PromptDelay(reply))
	if err := c.commit(follow, model.Event{Type: model.EventEmotionPrompt, Text: c.deps.Script.EmotionPrompt(c.rng)}); err != nil {
		return err
	}
	c.deps.Pacer.Wait(ctx, c.deps.Pacing.PromptSettle)
	return c.commit(follow, model.Event{Type: model.EventPhaseChanged, Phase: model.PhaseAwaitingSummary})
}

func (c *Conversation) requirePhase(want model.Phase) error {
	c.mu.Lock()
	phase := c.state.Phase
	c.mu.Unlock()
	if phase == model.PhaseSubmitted {
		return ErrAlreadySubmitted
	}
	if phase != want {
		return ErrWrongPhase
	}
	return nil
}

func (c *Conversation) typeSummary(ctx context.Context, cmd TypeSummary) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	if err := c.requirePhase(model.PhaseAwaitingSummary); err != nil {
		return err
	}
	return c.commit(ctx, model.Event{Type: model.EventSummaryTyped, Text: strings.TrimSpace(cmd.Text)})
}

func (c *Conversation) selectMarker(ctx context.Context, cmd SelectMarker) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	if err := c.requirePhase(model.PhaseAwaitingSummary); err != nil {
		return err
	}
	c.mu.Lock()
	known := containsMarker(c.state.Palette, cmd.Marker)
	c.mu.Unlock()
	if !known {
		return ErrInvalidMarker
	}
	return c.commit(ctx, model.Event{Type: model.EventMarkerSelected, Marker: cmd.Marker})
}

// ValidCustomMarker 自定义标记为 1 到 2 个字素。
func ValidCustomMarker(marker string) bool {
	n := uniseg.GraphemeClusterCount(marker)
	return n >= 1 && n <= 2
}

func (c *Conversation) addCustomMarker(ctx context.Context, cmd AddCustomMarker) error {
	marker := strings.TrimSpace(cmd.Marker)
	if !ValidCustomMarker(marker) {
		return ErrInvalidMarker
	}
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	if err := c.requirePhase(model.PhaseAwaitingSummary); err != nil {
		return err
	}
	return c.commit(ctx, model.Event{Type: model.EventMarkerAdded, Marker: marker})
}

func (c *Conversation) submit(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	st := c.State()
	if st.Phase == model.PhaseSubmitted {
		return ErrAlreadySubmitted
	}
	if st.PendingSummary == "" {
		return ErrSummaryRequired
	}
	if st.PendingMarker == "" {
		return ErrMarkerRequired
	}
	if st.Phase != model.PhaseAwaitingSummary {
		return ErrWrongPhase
	}

	text := SubmittedTurn(st.PendingSummary, st.PendingMarker)
	turns := append(st.Turns, model.Turn{Role: model.RoleUser, Text: text})
	if err := c.persist(ctx, st.PendingSummary, st.PendingMarker, turns); err != nil {
		return fmt.Errorf("save check-in: %w", err)
	}

	if err := c.commit(context.WithoutCancel(ctx), model.Event{
		Type:   model.EventSubmitted,
		Text:   text,
		Marker: st.PendingMarker,
	}); err != nil {
		return err
	}
	c.deps.Metrics.CheckinSubmitted(string(c.key.Variant))
	c.log.WithField("marker", st.PendingMarker).Info("check-in submitted")
	return nil
}

func (c *Conversation) restart(ctx context.Context) error {
	if c.key.Variant != model.VariantMorning {
		return ErrRestartNotAllowed
	}
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if err := c.clearMorning(ctx); err != nil {
		return fmt.Errorf("clear morning record: %w", err)
	}
	c.mu.Lock()
	c.seenIDs = make(map[string]bool)
	c.mu.Unlock()

	follow := context.WithoutCancel(ctx)
	return c.commit(follow,
		model.Event{Type: model.EventRestarted},
		model.Event{Type: model.EventGreeting, Text: c.greeting()},
	)
}
