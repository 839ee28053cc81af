package lesson

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"grape-notebook/server/internal/model"
)

// Block 一组连续课时的展示块。
type Block struct {
	Subject string               `json:"subject"`
	Topic   string               `json:"topic"`
	Periods []int                `json:"periods"`
	Records []model.LessonRecord `json:"-"`

	Content    Content `json:"content"`
	Unreadable bool    `json:"unreadable"`
}

// Label 例如 "3교시"、"3, 4교시"。
func (b Block) Label() string {
	parts := make([]string, len(b.Periods))
	for i, p := range b.Periods {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ") + "교시"
}

// GroupPeriods 按课时排序，把相邻、同科目且内容字节相同的课时合并为一个展示块。
func GroupPeriods(lessons []model.LessonRecord) []Block {
	sorted := append([]model.LessonRecord(nil), lessons...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Period < sorted[j].Period })

	var blocks []Block
	for _, l := range sorted {
		if n := len(blocks); n > 0 {
			cur := &blocks[n-1]
			first := cur.Records[0]
			if first.Subject == l.Subject && first.Content == l.Content &&
				cur.Periods[len(cur.Periods)-1] == l.Period-1 {
				cur.Periods = append(cur.Periods, l.Period)
				cur.Records = append(cur.Records, l)
				continue
			}
		}
		blocks = append(blocks, newBlock(l))
	}
	return blocks
}

func newBlock(l model.LessonRecord) Block {
	b := Block{
		Subject: l.Subject,
		Topic:   l.Topic,
		Periods: []int{l.Period},
		Records: []model.LessonRecord{l},
	}
	c, err := ParseContent(l.Content)
	if errors.Is(err, ErrUnreadable) {
		b.Unreadable = true
	}
	// 旧记录的照片地址只存在于记录本身
	if c.PhotoURL == "" && l.PhotoURL != "" {
		c.HasPhoto = true
		c.PhotoURL = l.PhotoURL
	}
	b.Content = c
	return b
}
