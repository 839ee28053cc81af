package canvas

// History 快照序列与游标。
//
// cursor == -1 表示空画布；否则 0 <= cursor < len(entries)。
// maxCursor 是可以重做到的最远位置，新快照会把它收缩到新的 cursor。
type History struct {
	entries   []Snapshot
	cursor    int
	maxCursor int
	limit     int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = MaxHistory
	}
	return &History{cursor: -1, maxCursor: -1, limit: limit}
}

// Push 丢弃 cursor 之后的分支再追加；超过上限时淘汰最旧的一条。
func (h *History) Push(s Snapshot) {
	h.entries = append(h.entries[:h.cursor+1], s)
	h.cursor = len(h.entries) - 1
	h.maxCursor = h.cursor

	if len(h.entries) > h.limit {
		h.entries = append([]Snapshot(nil), h.entries[1:]...)
		h.cursor--
		h.maxCursor--
	}
}

// Undo 返回需要恢复的快照。
// cursor 为 0 时清空整个历史，返回 nil 表示恢复为空画布；cursor 为 -1 时 ok 为 false。
func (h *History) Undo() (snap *Snapshot, ok bool) {
	switch {
	case h.cursor > 0:
		h.cursor--
		return &h.entries[h.cursor], true
	case h.cursor == 0:
		h.Reset()
		return nil, true
	}
	return nil, false
}

// Redo 前进一步，无可重做时 ok 为 false。
func (h *History) Redo() (snap *Snapshot, ok bool) {
	if h.cursor >= h.maxCursor {
		return nil, false
	}
	h.cursor++
	return &h.entries[h.cursor], true
}

func (h *History) Reset() {
	h.entries = nil
	h.cursor = -1
	h.maxCursor = -1
}

func (h *History) Len() int       { return len(h.entries) }
func (h *History) Cursor() int    { return h.cursor }
func (h *History) MaxCursor() int { return h.maxCursor }

// CanUndo 与界面按钮一致：停在第一张快照时不可撤销。
func (h *History) CanUndo() bool { return h.cursor > 0 }
func (h *History) CanRedo() bool { return h.cursor < h.maxCursor }
