package checkin

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Pacing 控制机器人说话的节奏。
type Pacing struct {
	// RevealInterval 每个字符的显示间隔
	RevealInterval time.Duration
	// PromptLead 总结回复显示完后，再等多久追加情绪提示
	PromptLead time.Duration
	// PromptSettle 情绪提示之后，再等多久展示标记面板
	PromptSettle time.Duration
}

// DefaultPacing 30ms/字，500ms，2s。
func DefaultPacing() Pacing {
	return Pacing{
		RevealInterval: 30 * time.Millisecond,
		PromptLead:     500 * time.Millisecond,
		PromptSettle:   2 * time.Second,
	}
}

// PromptDelay 情绪提示前的停顿，与回复长度成正比。
func (p Pacing) PromptDelay(reply string) time.Duration {
	return time.Duration(utf8.RuneCountInString(reply))*p.RevealInterval + p.PromptLead
}

// Pacer 负责等待，测试中替换为立即返回的实现。
type Pacer interface {
	// Wait 等待 d 或 ctx 结束，二者先到为准。
	Wait(ctx context.Context, d time.Duration)
}

// TimerPacer 基于 time.Timer 的实现。
type TimerPacer struct{}

func (TimerPacer) Wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// InstantPacer 不等待，只记录请求的时长。
type InstantPacer struct {
	mu    sync.Mutex
	Waits []time.Duration
}

func (p *InstantPacer) Wait(_ context.Context, d time.Duration) {
	p.mu.Lock()
	p.Waits = append(p.Waits, d)
	p.mu.Unlock()
}

// Recorded 返回已记录的等待时长副本。
func (p *InstantPacer) Recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.Waits...)
}

// Reveal 按字素逐个输出文本前缀。
// 无论 ctx 是否提前结束，最后一次 emit 总是完整文本。
func Reveal(ctx context.Context, text string, interval time.Duration, pacer Pacer, emit func(prefix string)) {
	if pacer == nil {
		pacer = TimerPacer{}
	}
	gr := uniseg.NewGraphemes(text)
	end := 0
	for gr.Next() {
		if ctx.Err() != nil {
			break
		}
		_, to := gr.Positions()
		end = to
		if end == len(text) {
			break
		}
		emit(text[:end])
		pacer.Wait(ctx, interval)
	}
	emit(text)
}
