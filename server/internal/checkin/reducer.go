package checkin

import (
	"grape-notebook/server/internal/model"
)

// Reduce 只做事实归约，不触发外部调用。
// 状态只能由事件推进，回放同一串事件得到同一状态。
func Reduce(state *model.CheckinState, evt model.Event) *model.CheckinState {
	if state == nil {
		return nil
	}

	switch evt.Type {
	case model.EventGreeting, model.EventAssistantText, model.EventEmotionPrompt:
		if evt.Text != "" {
			state.Turns = append(state.Turns, model.Turn{Role: model.RoleAssistant, Text: evt.Text})
		}
	case model.EventUserMessage:
		state.Turns = append(state.Turns, model.Turn{Role: model.RoleUser, Text: evt.Text})
		state.TurnCount++
	case model.EventPhaseChanged:
		// 阶段只前进，回到 chatting 只能经由 restarted
		if state.Phase.Before(evt.Phase) {
			state.Phase = evt.Phase
		}
	case model.EventSummaryTyped:
		state.PendingSummary = evt.Text
	case model.EventMarkerSelected:
		state.PendingMarker = evt.Marker
	case model.EventMarkerAdded:
		if !containsMarker(state.Palette, evt.Marker) {
			state.Palette = append(state.Palette, evt.Marker)
		}
		state.PendingMarker = evt.Marker
	case model.EventSubmitted:
		state.Turns = append(state.Turns, model.Turn{Role: model.RoleUser, Text: evt.Text})
		state.Phase = model.PhaseSubmitted
	case model.EventRestarted:
		state.Turns = nil
		state.TurnCount = 0
		state.PendingSummary = ""
		state.PendingMarker = ""
		state.Phase = model.PhaseChatting
	case model.EventRehydrated:
		state.Turns = append([]model.Turn(nil), evt.Turns...)
		state.TurnCount = countUserTurns(evt.Turns)
		state.PendingSummary = evt.Text
		state.PendingMarker = evt.Marker
		if evt.Phase != "" {
			state.Phase = evt.Phase
		}
	}

	return state
}

// Replay 从初始状态依次归约事件。
func Replay(initial model.CheckinState, events []model.Event) model.CheckinState {
	state := initial.Clone()
	for _, evt := range events {
		Reduce(&state, evt)
	}
	return state
}

// SubmittedTurn 合成提交时追加的用户轮次。
func SubmittedTurn(summary, marker string) string {
	return summary + " " + marker
}

func countUserTurns(turns []model.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == model.RoleUser {
			n++
		}
	}
	return n
}

func containsMarker(palette []string, marker string) bool {
	for _, m := range palette {
		if m == marker {
			return true
		}
	}
	return false
}
