package checkin

import (
	"context"
	"reflect"
	"testing"
	"time"
)

// TestPromptDelay 验证情绪提示前的停顿按字符数计算。
func TestPromptDelay(t *testing.T) {
	p := DefaultPacing()
	if got := p.PromptDelay("안녕하세요"); got != 5*30*time.Millisecond+500*time.Millisecond {
		t.Fatalf("unexpected delay: %v", got)
	}
	if got := p.PromptDelay(""); got != 500*time.Millisecond {
		t.Fatalf("unexpected delay for empty reply: %v", got)
	}
}

// TestRevealEmitsGraphemePrefixes 验证按字素逐步输出，表情不会被截断。
func TestRevealEmitsGraphemePrefixes(t *testing.T) {
	pacer := &InstantPacer{}
	var got []string
	Reveal(context.Background(), "안녕👍🏽", 30*time.Millisecond, pacer, func(prefix string) {
		got = append(got, prefix)
	})

	want := []string{"안", "안녕", "안녕👍🏽"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if len(pacer.Recorded()) != 2 {
		t.Fatalf("expected 2 waits, got %v", pacer.Recorded())
	}
}

// TestRevealCancelledStillEmitsFullText 验证 ctx 结束时仍以完整文本收尾。
func TestRevealCancelledStillEmitsFullText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []string
	Reveal(ctx, "좋은 아침", time.Millisecond, &InstantPacer{}, func(prefix string) {
		got = append(got, prefix)
	})
	if len(got) != 1 || got[0] != "좋은 아침" {
		t.Fatalf("expected only the full text, got %q", got)
	}
}

// TestTimerPacerHonoursContext 验证 ctx 结束时不再等待。
func TestTimerPacerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	TimerPacer{}.Wait(ctx, time.Minute)
	if time.Since(start) > time.Second {
		t.Fatalf("wait ignored cancelled context")
	}
}
