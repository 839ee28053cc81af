package domain

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"grape-notebook/server/internal/model"
)

// Script 是签到机器人的全部台词与指令。
type Script struct {
	MorningGreetings []string `yaml:"morning_greetings"`
	// ClosingGreetings 当天没有早晨记录时使用
	ClosingGreetings []string `yaml:"closing_greetings"`
	// ClosingSummaryGreetings 引用早晨总结句，%s 为总结句
	ClosingSummaryGreetings []string `yaml:"closing_summary_greetings"`
	// ClosingMarkerGreetings 引用早晨标记，%s 为标记
	ClosingMarkerGreetings []string `yaml:"closing_marker_greetings"`
	EmotionPrompts         []string `yaml:"emotion_prompts"`
	Apology                string   `yaml:"apology"`

	MorningPersona string `yaml:"morning_persona"`
	ClosingPersona string `yaml:"closing_persona"`
	// MorningMarkerNote 追加在放学人设之后，%s 为早晨标记
	MorningMarkerNote string `yaml:"morning_marker_note"`
	QuestionDirective string `yaml:"question_directive"`
	// ClosingQuestionDirective 放学签到追问时关注“现在”的情绪
	ClosingQuestionDirective string `yaml:"closing_question_directive"`
	SummaryDirective         string `yaml:"summary_directive"`

	Markers         []string `yaml:"markers"`
	FeedbackMarkers []string `yaml:"feedback_markers"`
}

// DefaultScript 返回内置台词。
func DefaultScript() *Script {
	return &Script{
		MorningGreetings: []string{
			"좋은 아침이야! 오늘 기분은 어때? 😊",
			"안녕! 눈 떴을 때 기분이 어땠는지 말해줄래? 😄",
			"오늘 아침, 제일 먼저 떠오른 기분은 뭐였어? 🤔",
			"일어나 보니까 마음이 어땠어? 두근두근? 편안? 😌",
			"오늘은 어떤 기분으로 하루를 시작했는지 궁금해! 🤗",
		},
		ClosingGreetings: []string{
			"오늘 하루는 어땠어? 기억에 남는 순간 하나만 들려줄래? 😊",
			"안녕! 오늘 하루를 그림으로 그리면 어떤 느낌일까? 말로 한번 표현해볼래? 🎨",
			"지금 딱 떠오르는 오늘의 기분 한 가지를 말해본다면 뭐야? 😄",
			"하루를 쭉 돌아봤을 때, 제일 먼저 생각나는 장면은 뭐야? 거기서 기분이 어땠는지도 궁금해! 🤔",
			"오늘 네 마음속에 가장 오래 남아 있는 기분은 어떤 거야? 편하게 말해줘! 💬",
		},
		ClosingSummaryGreetings: []string{
			"아침에 \"%s\"라고 말했었잖아! 지금은 기분이 좀 달라졌어? 😊",
			"오늘 아침에는 \"%s\"라고 정리했는데, 하루를 보내보니 지금 마음은 어때? 😄",
			"\"%s\" 이런 기분으로 시작했었지? 지금은 그때랑 비교하면 어때 보여? 🤔",
			"아침에 \"%s\"라고 했던 거 기억나? 지금 마음을 한 번 더 이야기해 줄래? 💭",
			"\"%s\"로 하루를 열었는데, 지금 네 마음 날씨는 어떤지 궁금하다! 🌤️",
		},
		ClosingMarkerGreetings: []string{
			"아침에는 %s 이런 느낌이었지? 지금은 기분이 어떻게 바뀌었어? 😊",
			"오늘 아침 기분이 %s였는데, 지금은 어떤 기분이야? 😄",
			"아침엔 %s 느낌이었다면, 지금 마음은 조금 달라졌을까? 🤔",
			"하루를 보내보니까, 아침의 %s 기분이랑 지금 기분이랑 뭐가 제일 다른 것 같아? 💭",
			"아침에 느꼈던 %s 기분, 지금 생각하면 어때 보여? 🌈",
		},
		EmotionPrompts: []string{
			"이제 그 기분을 이모티콘으로 표현해볼래? 😊",
			"지금 기분을 나타내는 이모티콘 하나 골라줄래? 😄",
			"이 기분을 이모티콘으로 보여줄 수 있을까? 🤔",
			"딱 맞는 이모티콘 하나 골라서 표현해봐! 💭",
			"어울리는 이모티콘 하나 찍어줄래? ✨",
			"지금 이 마음을 이모티콘으로 보여줘! 🎨",
		},
		Apology: "미안, 뭔가 오류가 난 것 같아. 잠시 후에 다시 한 번 시도해 줄래?",

		MorningPersona:           "너는 초등학생 친구와 이야기해 주는 따뜻한 감정 상담 챗봇이야. 항상 반말을 쓰고, 친구처럼 편하게 이야기해 줘. 학생의 감정을 공감해 주고, 부담스럽지 않게 긍정적인 관점을 보여 줘. 문장은 너무 길지 않게, 한두 문장 정도로 짧고 자연스럽게 답해.",
		ClosingPersona:           "너는 초등학생 친구와 하루를 마무리하면서 이야기를 들어 주는 따뜻한 감정 상담 챗봇이야. 항상 반말을 쓰고, 친구처럼 편하게 이야기해 줘. 학생의 아침 감정과 지금 감정을 함께 돌아보면서, 부담스럽지 않게 긍정적인 관점을 보여 줘. 문장은 너무 길지 않게, 한두 문장 정도로 짧고 자연스럽게 답해.",
		MorningMarkerNote:        " 학생의 아침 감정은 %s이었습니다.",
		QuestionDirective:        " 중요: 너의 응답은 반드시 질문으로 끝나야 해. 학생이 자신의 감정에 대해 더 자세히 이야기할 수 있도록 구체적이고 따뜻한 질문을 던져줘. 예: '그 기분이 어떤 느낌이었어?', '그때 뭐가 가장 기억에 남아?', '그 일이 너에게 어떤 의미였어?' 같은 식으로.",
		ClosingQuestionDirective: " 중요: 너의 응답은 반드시 질문으로 끝나야 해. 학생이 자신의 현재 감정에 대해 더 자세히 이야기할 수 있도록 구체적이고 따뜻한 질문을 던져줘. 예: '그 기분이 어떤 느낌이었어?', '그때 뭐가 가장 기억에 남아?', '그 일이 너에게 어떤 의미였어?' 같은 식으로.",
		SummaryDirective:         " 중요: 학생이 지금까지 이야기한 감정을 요약해주고, 학생이 스스로 감정을 한 문장으로 정리할 수 있도록 안내해줘. 질문 형태가 아닌 요약과 안내 문장으로 끝내야 해. 예: '지금까지 너가 말한 걸 정리해보면... 이제 너의 기분을 한 문장으로 정리해볼래?'",

		Markers:         []string{"😊", "😄", "😢", "😡", "😴", "🤔", "😍", "⭐"},
		FeedbackMarkers: []string{"⭐", "👍", "💯", "🎉", "🌟", "💪", "✨", "🎯", "👏", "🔥"},
	}
}

// LoadScript 读取 YAML 台词文件，缺省的项沿用内置台词。
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var override Script
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	s := DefaultScript()
	s.merge(&override)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) merge(o *Script) {
	mergeList := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	mergeText := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	mergeList(&s.MorningGreetings, o.MorningGreetings)
	mergeList(&s.ClosingGreetings, o.ClosingGreetings)
	mergeList(&s.ClosingSummaryGreetings, o.ClosingSummaryGreetings)
	mergeList(&s.ClosingMarkerGreetings, o.ClosingMarkerGreetings)
	mergeList(&s.EmotionPrompts, o.EmotionPrompts)
	mergeList(&s.Markers, o.Markers)
	mergeList(&s.FeedbackMarkers, o.FeedbackMarkers)
	mergeText(&s.Apology, o.Apology)
	mergeText(&s.MorningPersona, o.MorningPersona)
	mergeText(&s.ClosingPersona, o.ClosingPersona)
	mergeText(&s.MorningMarkerNote, o.MorningMarkerNote)
	mergeText(&s.QuestionDirective, o.QuestionDirective)
	mergeText(&s.ClosingQuestionDirective, o.ClosingQuestionDirective)
	mergeText(&s.SummaryDirective, o.SummaryDirective)
}

// Validate 引用类台词必须且只能包含一个 %s。
func (s *Script) Validate() error {
	check := func(name string, lines []string) error {
		for i, line := range lines {
			if strings.Count(line, "%s") != 1 {
				return fmt.Errorf("script %s[%d] must contain exactly one %%s", name, i)
			}
		}
		return nil
	}
	if err := check("closing_summary_greetings", s.ClosingSummaryGreetings); err != nil {
		return err
	}
	if err := check("closing_marker_greetings", s.ClosingMarkerGreetings); err != nil {
		return err
	}
	if len(s.MorningGreetings) == 0 || len(s.ClosingGreetings) == 0 || len(s.EmotionPrompts) == 0 {
		return fmt.Errorf("script greetings and emotion prompts must not be empty")
	}
	return nil
}

// Greeting 选择开场白。放学签到优先引用早晨总结句，其次引用早晨标记。
func (s *Script) Greeting(rng *rand.Rand, variant model.Variant, morning *model.EmotionRecord) string {
	if variant == model.VariantMorning {
		return pick(rng, s.MorningGreetings)
	}
	if morning != nil {
		if morning.MorningSummary != "" {
			return fmt.Sprintf(pick(rng, s.ClosingSummaryGreetings), morning.MorningSummary)
		}
		if m := morning.Morning(); m != "" {
			return fmt.Sprintf(pick(rng, s.ClosingMarkerGreetings), m)
		}
	}
	return pick(rng, s.ClosingGreetings)
}

// EmotionPrompt 随机选择一条情绪提示。
func (s *Script) EmotionPrompt(rng *rand.Rand) string {
	return pick(rng, s.EmotionPrompts)
}

func pick(rng *rand.Rand, lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	if rng == nil {
		return lines[rand.Intn(len(lines))]
	}
	return lines[rng.Intn(len(lines))]
}
