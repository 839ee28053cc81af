package checkin

import (
	"context"
	"errors"

	"grape-notebook/server/internal/model"
	"grape-notebook/server/internal/store"
)

// persist 把提交结果合并写入当天的情绪记录；放学签到额外写一条提交索引。
func (c *Conversation) persist(ctx context.Context, summary, marker string, turns []model.Turn) error {
	now := c.deps.Now()
	key := store.EmotionKey(c.key.StudentID, c.key.Date)

	switch c.key.Variant {
	case model.VariantMorning:
		return c.deps.Store.Put(ctx, key, store.Fields{
			"morningEmotion":  marker,
			"morningChat":     turns,
			"morningSummary":  summary,
			"date":            c.key.Date,
			"timestamp":       now,
			"morningRecorded": true,
		}, true)

	case model.VariantClosing:
		if err := c.deps.Store.Put(ctx, key, store.Fields{
			"closingEmotion": marker,
			"closingSummary": summary,
			"closingChat":    turns,
			"submitted":      true,
			"submittedAt":    now,
		}, true); err != nil {
			return err
		}
		sub, err := store.ToFields(model.Submission{
			StudentID:   c.key.StudentID,
			StudentName: c.studentName(ctx),
			Date:        c.key.Date,
			SubmittedAt: now,
			Status:      "pending",
		})
		if err != nil {
			return err
		}
		return c.deps.Store.Put(ctx, store.SubmissionKey(c.key.StudentID, c.key.Date), sub, false)
	}
	return nil
}

// clearMorning 清空早晨字段，其余字段保留。
func (c *Conversation) clearMorning(ctx context.Context) error {
	return c.deps.Store.Put(ctx, store.EmotionKey(c.key.StudentID, c.key.Date), store.Fields{
		"morningEmotion":  nil,
		"morningChat":     []model.Turn{},
		"morningSummary":  "",
		"morningRecorded": false,
	}, true)
}

func (c *Conversation) studentName(ctx context.Context) string {
	f, err := c.deps.Store.Get(ctx, store.UserKey(c.key.StudentID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.WithError(err).Warn("load user profile failed")
		}
		return model.UserProfile{}.Name()
	}
	var profile model.UserProfile
	if err := store.Decode(f, &profile); err != nil {
		return model.UserProfile{}.Name()
	}
	return profile.Name()
}
