package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/lesson"
	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/model"
	"grape-notebook/server/internal/store"
)

func validation(msg string) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, msg)
}

var (
	ErrInvalidMonth  = validation("month must look like 2006-01")
	ErrInvalidDate   = validation("date must look like 2006-01-02")
	ErrEmojiRequired = validation("feedback emoji is required")
	ErrTeacherID     = validation("teacher id is required")
)

// DefaultProfileEmoji 学生没有设置头像时使用。
const DefaultProfileEmoji = "🍇"

// Service 老师端的查阅与反馈。
type Service struct {
	store   store.RecordStore
	lessons *lesson.Service
	now     func() time.Time
	log     logrus.FieldLogger
}

func NewService(s store.RecordStore, lessons *lesson.Service, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{store: s, lessons: lessons, now: time.Now, log: log}
}

func checkDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return ErrInvalidDate
	}
	return nil
}

// Calendar 某月每天提交的学生数（按学生去重）。
func (s *Service) Calendar(ctx context.Context, month string) (map[string]int, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, ErrInvalidMonth
	}
	subs, err := s.submissions(ctx, store.Query{Collection: store.CollectionSubmissions})
	if err != nil {
		return nil, err
	}

	students := make(map[string]map[string]bool)
	for _, sub := range subs {
		if !strings.HasPrefix(sub.Date, month+"-") {
			continue
		}
		if students[sub.Date] == nil {
			students[sub.Date] = make(map[string]bool)
		}
		students[sub.Date][sub.StudentID] = true
	}
	out := make(map[string]int, len(students))
	for date, ids := range students {
		out[date] = len(ids)
	}
	return out, nil
}

// StudentSubmission 某天提交的一名学生。
type StudentSubmission struct {
	StudentID    string    `json:"studentId"`
	StudentName  string    `json:"studentName"`
	ProfileEmoji string    `json:"profileEmoji"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// Submissions 某天提交的学生，按名字排序。没有用户资料的学生不列出。
func (s *Service) Submissions(ctx context.Context, date string) ([]StudentSubmission, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	subs, err := s.submissions(ctx, store.Query{
		Collection: store.CollectionSubmissions,
		Equals:     map[string]string{"date": date},
	})
	if err != nil {
		return nil, err
	}

	out := make([]StudentSubmission, 0, len(subs))
	for _, sub := range subs {
		profile, err := s.profile(ctx, sub.StudentID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, StudentSubmission{
			StudentID:    sub.StudentID,
			StudentName:  profile.Name(),
			ProfileEmoji: profileEmoji(profile),
			SubmittedAt:  sub.SubmittedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StudentName < out[j].StudentName })
	return out, nil
}

func (s *Service) submissions(ctx context.Context, q store.Query) ([]model.Submission, error) {
	docs, err := s.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]model.Submission, 0, len(docs))
	for _, d := range docs {
		var sub model.Submission
		if err := store.Decode(d.Fields, &sub); err != nil {
			s.log.WithError(err).WithField("key", d.Key.String()).Warn("skip malformed submission")
			continue
		}
		if sub.StudentID == "" {
			sub.StudentID = d.Key.StudentID
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *Service) profile(ctx context.Context, studentID string) (model.UserProfile, error) {
	var p model.UserProfile
	f, err := s.store.Get(ctx, store.UserKey(studentID))
	if err != nil {
		return p, err
	}
	if err := store.Decode(f, &p); err != nil {
		return p, err
	}
	return p, nil
}

func profileEmoji(p model.UserProfile) string {
	if p.ProfileEmoji == "" {
		return DefaultProfileEmoji
	}
	return p.ProfileEmoji
}

// StudentDay 某个学生某天的全部内容。
type StudentDay struct {
	StudentID    string               `json:"studentId"`
	StudentName  string               `json:"studentName"`
	ProfileEmoji string               `json:"profileEmoji"`
	Date         string               `json:"date"`
	Emotion      *model.EmotionRecord `json:"emotion,omitempty"`
	Feedbacks    []model.Feedback     `json:"feedbacks"`
	Lessons      []lesson.Block       `json:"lessons"`
}

func (s *Service) StudentDay(ctx context.Context, studentID, date string) (*StudentDay, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	day := &StudentDay{StudentID: studentID, Date: date}

	profile, err := s.profile(ctx, studentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	day.StudentName = profile.Name()
	day.ProfileEmoji = profileEmoji(profile)

	rec, err := s.emotion(ctx, studentID, date)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		day.Emotion = rec
		day.Feedbacks = feedbacksOf(rec, s.now())
	}

	if s.lessons != nil {
		day.Lessons, err = s.lessons.ListByDate(ctx, studentID, date)
		if err != nil {
			return nil, err
		}
	}
	return day, nil
}

func (s *Service) emotion(ctx context.Context, studentID, date string) (*model.EmotionRecord, error) {
	f, err := s.store.Get(ctx, store.EmotionKey(studentID, date))
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

// feedbacksOf 返回反馈列表；只有旧的单条反馈时转换为一条。
func feedbacksOf(rec *model.EmotionRecord, now time.Time) []model.Feedback {
	if len(rec.Feedbacks) > 0 {
		return append([]model.Feedback(nil), rec.Feedbacks...)
	}
	if rec.TeacherEmoji == nil || *rec.TeacherEmoji == "" {
		return nil
	}
	fb := model.Feedback{Emoji: *rec.TeacherEmoji, CreatedAt: now}
	if rec.TeacherFeedback != nil {
		fb.Text = *rec.TeacherFeedback
	}
	if rec.EvaluatedAt != nil {
		fb.CreatedAt = *rec.EvaluatedAt
	}
	if rec.EvaluatedBy != nil {
		fb.TeacherID = *rec.EvaluatedBy
	}
	return []model.Feedback{fb}
}

// FeedbackRequest 老师发送的一条反馈。
type FeedbackRequest struct {
	StudentID string
	Date      string
	TeacherID string
	Emoji     string
	Text      string
}

// SendFeedback 追加一条反馈，同时把最新一条写到旧的单条字段上。
func (s *Service) SendFeedback(ctx context.Context, req FeedbackRequest) ([]model.Feedback, error) {
	if err := checkDate(req.Date); err != nil {
		return nil, err
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		return nil, ErrEmojiRequired
	}
	if req.TeacherID == "" {
		return nil, ErrTeacherID
	}
	now := s.now()
	text := strings.TrimSpace(req.Text)

	var feedbacks []model.Feedback
	rec, err := s.emotion(ctx, req.StudentID, req.Date)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		feedbacks = feedbacksOf(rec, now)
	}
	feedbacks = append(feedbacks, model.Feedback{Emoji: emoji, Text: text, CreatedAt: now, TeacherID: req.TeacherID})

	var latestText any
	if text != "" {
		latestText = text
	}
	if err := s.store.Put(ctx, store.EmotionKey(req.StudentID, req.Date), store.Fields{
		"date":            req.Date,
		"studentId":       req.StudentID,
		"feedbacks":       feedbacks,
		"teacherEmoji":    emoji,
		"teacherFeedback": latestText,
		"evaluatedAt":     now,
		"evaluatedBy":     req.TeacherID,
	}, true); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"student_id": req.StudentID,
		"date":       req.Date,
		"teacher_id": req.TeacherID,
		"count":      len(feedbacks),
	}).Info("feedback sent")
	return feedbacks, nil
}

// RecallFeedback 撤回当天所有反馈。
func (s *Service) RecallFeedback(ctx context.Context, studentID, date string) error {
	if err := checkDate(date); err != nil {
		return err
	}
	if err := s.store.Put(ctx, store.EmotionKey(studentID, date), store.Fields{
		"feedbacks":       []model.Feedback{},
		"teacherEmoji":    nil,
		"teacherFeedback": nil,
		"evaluatedAt":     nil,
		"evaluatedBy":     nil,
	}, true); err != nil {
		return fmt.Errorf("recall feedback: %w", err)
	}
	s.log.WithFields(logrus.Fields{"student_id": studentID, "date": date}).Info("feedback recalled")
	return nil
}
