package review

import (
	"context"
	"fmt"
	"sort"
	"time"

	"grape-notebook/server/internal/model"
	"grape-notebook/server/internal/store"
)

// ClusterSize 一串葡萄的颗数。
const ClusterSize = 30

// Grape 一条老师反馈。
type Grape struct {
	Date        string    `json:"date"`
	Emoji       string    `json:"emoji"`
	Feedback    string    `json:"feedback,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Cluster 一串葡萄，未满时 Complete 为 false。
type Cluster struct {
	Number   int     `json:"number"`
	Grapes   []Grape `json:"grapes"`
	Complete bool    `json:"complete"`
}

// GrapeBoard 学生的葡萄板。
type GrapeBoard struct {
	Total             int       `json:"total"`
	CompletedClusters int       `json:"completedClusters"`
	Current           int       `json:"current"`
	Clusters          []Cluster `json:"clusters"`
}

// Grapes 收集学生收到的所有反馈，按日期排序后每 30 颗成一串。
func (s *Service) Grapes(ctx context.Context, studentID string) (*GrapeBoard, error) {
	docs, err := s.store.List(ctx, store.Query{Collection: store.CollectionEmotions, StudentID: studentID})
	if err != nil {
		return nil, fmt.Errorf("list emotion records: %w", err)
	}

	now := s.now()
	var grapes []Grape
	for _, d := range docs {
		var rec model.EmotionRecord
		if err := store.Decode(d.Fields, &rec); err != nil {
			s.log.WithError(err).WithField("key", d.Key.String()).Warn("skip malformed emotion record")
			continue
		}
		date := rec.Date
		if date == "" {
			date = d.Key.ID
		}
		for _, fb := range feedbacksOf(&rec, now) {
			if fb.Emoji == "" {
				continue
			}
			grapes = append(grapes, Grape{Date: date, Emoji: fb.Emoji, Feedback: fb.Text, EvaluatedAt: fb.CreatedAt})
		}
	}
	sort.SliceStable(grapes, func(i, j int) bool { return grapes[i].Date < grapes[j].Date })
	return Board(grapes), nil
}

// Board 按 ClusterSize 切分。
func Board(grapes []Grape) *GrapeBoard {
	b := &GrapeBoard{
		Total:             len(grapes),
		CompletedClusters: len(grapes) / ClusterSize,
		Current:           len(grapes) % ClusterSize,
		Clusters:          []Cluster{},
	}
	for i := 0; i < len(grapes); i += ClusterSize {
		end := min(i+ClusterSize, len(grapes))
		b.Clusters = append(b.Clusters, Cluster{
			Number:   i/ClusterSize + 1,
			Grapes:   grapes[i:end],
			Complete: end-i == ClusterSize,
		})
	}
	return b
}
