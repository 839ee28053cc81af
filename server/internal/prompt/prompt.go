package prompt

import (
	"fmt"
	"strings"

	"grape-notebook/server/internal/domain"
	"grape-notebook/server/internal/model"
)

// Stage 决定本轮回复的指令。
type Stage string

const (
	// StageQuestion 第 1、2 轮：以追问结尾
	StageQuestion Stage = "question"
	// StageSummary 第 3 轮：总结并引导学生用一句话整理心情
	StageSummary Stage = "summary"
)

// StageForTurn 根据用户发言次数（已包含本轮）选择阶段。
func StageForTurn(turnCount int) Stage {
	if turnCount >= 3 {
		return StageSummary
	}
	return StageQuestion
}

// Request 构建指令的输入
type Request struct {
	Variant model.Variant
	Stage   Stage
	// MorningMarker 放学签到时当天早晨的标记，可为空
	MorningMarker string
}

// Prompt 构建结果
type Prompt struct {
	Instructions string
	DebugInfo    map[string]any
}

// Builder 根据台词拼装系统指令
type Builder struct {
	script *domain.Script
}

// NewBuilder 创建指令构建器，script 为 nil 时使用内置台词。
func NewBuilder(script *domain.Script) *Builder {
	if script == nil {
		script = domain.DefaultScript()
	}
	return &Builder{script: script}
}

// Build 人设 + 早晨标记说明（仅放学）+ 阶段指令。
func (b *Builder) Build(req Request) (Prompt, error) {
	var sb strings.Builder

	switch req.Variant {
	case model.VariantMorning:
		sb.WriteString(b.script.MorningPersona)
	case model.VariantClosing:
		sb.WriteString(b.script.ClosingPersona)
		if req.MorningMarker != "" {
			sb.WriteString(fmt.Sprintf(b.script.MorningMarkerNote, req.MorningMarker))
		}
	default:
		return Prompt{}, fmt.Errorf("unknown variant: %s", req.Variant)
	}

	switch req.Stage {
	case StageQuestion:
		if req.Variant == model.VariantClosing && b.script.ClosingQuestionDirective != "" {
			sb.WriteString(b.script.ClosingQuestionDirective)
		} else {
			sb.WriteString(b.script.QuestionDirective)
		}
	case StageSummary:
		sb.WriteString(b.script.SummaryDirective)
	default:
		return Prompt{}, fmt.Errorf("unknown stage: %s", req.Stage)
	}

	return Prompt{
		Instructions: sb.String(),
		DebugInfo: map[string]any{
			"variant":        req.Variant,
			"stage":          req.Stage,
			"morning_marker": req.MorningMarker,
		},
	}, nil
}

// Validate 校验生成的指令
func (b *Builder) Validate(p Prompt) error {
	if strings.TrimSpace(p.Instructions) == "" {
		return fmt.Errorf("empty instructions")
	}
	if len([]rune(p.Instructions)) > 2000 {
		return fmt.Errorf("instructions too long: %d > 2000", len([]rune(p.Instructions)))
	}
	return nil
}

// Fallback 只保留人设，在台词配置异常时使用。
func (b *Builder) Fallback(req Request) Prompt {
	persona := b.script.MorningPersona
	if req.Variant == model.VariantClosing {
		persona = b.script.ClosingPersona
	}
	return Prompt{
		Instructions: persona,
		DebugInfo: map[string]any{
			"fallback": true,
		},
	}
}
