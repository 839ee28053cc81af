package lesson

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/blob"
	"grape-notebook/server/internal/canvas"
	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/model"
	"grape-notebook/server/internal/store"
)

func validation(msg string) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, msg)
}

var (
	ErrPeriodsRequired = validation("at least one period is required")
	ErrInvalidPeriod   = validation("period must be between 1 and 8")
	ErrSubjectRequired = validation("subject is required")
	ErrDateRequired    = validation("date is required")
	ErrNoContent       = validation("choose at least one of text, drawing or photo")
	ErrInvalidPhoto    = validation("photo could not be decoded")
)

const maxPeriod = 8

// SaveRequest 保存一条学习记录，可以同时写入多个课时。
type SaveRequest struct {
	StudentID string
	Date      string
	Periods   []int
	Subject   string
	Topic     string
	// Text 为 nil 表示未启用文字
	Text    *string
	Drawing *canvas.Export
	Photo   []byte
}

// SaveResult 保存结果。
type SaveResult struct {
	RecordType string `json:"recordType"`
	PhotoURL   string `json:"photoUrl,omitempty"`
	Periods    []int  `json:"periods"`
}

// Service 学习笔记的读写。
type Service struct {
	store store.RecordStore
	blobs blob.Uploader
	now   func() time.Time
	log   logrus.FieldLogger
}

func NewService(s store.RecordStore, blobs blob.Uploader, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{store: s, blobs: blobs, now: time.Now, log: log}
}

func (r SaveRequest) validate() error {
	if r.StudentID == "" || r.Date == "" {
		return ErrDateRequired
	}
	if len(r.Periods) == 0 {
		return ErrPeriodsRequired
	}
	for _, p := range r.Periods {
		if p < 1 || p > maxPeriod {
			return ErrInvalidPeriod
		}
	}
	if strings.TrimSpace(r.Subject) == "" {
		return ErrSubjectRequired
	}
	if r.Text == nil && r.Drawing == nil && len(r.Photo) == 0 {
		return ErrNoContent
	}
	return nil
}

// Save 上传照片后，按课时逐条合并写入。照片上传失败时不写任何记录。
func (s *Service) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()

	content := Content{
		HasText:    req.Text != nil,
		HasDrawing: req.Drawing != nil,
		Drawing:    DrawingFromExport(req.Drawing),
		HasPhoto:   len(req.Photo) > 0,
	}
	if req.Text != nil {
		content.Text = *req.Text
	}

	if content.HasPhoto {
		photo, err := blob.PreparePhoto(req.Photo)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPhoto, err)
		}
		if s.blobs == nil {
			return nil, fmt.Errorf("upload photo: no blob store configured")
		}
		url, err := s.blobs.Upload(ctx, blob.PhotoPath(req.StudentID, req.Date, now.UnixMilli()), blob.PhotoContentType, photo)
		if err != nil {
			return nil, fmt.Errorf("upload photo: %w", err)
		}
		content.PhotoURL = url
	}

	encoded, err := content.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode lesson content: %w", err)
	}

	periods := append([]int(nil), req.Periods...)
	sort.Ints(periods)
	for _, period := range periods {
		fields, err := store.ToFields(model.LessonRecord{
			Date:       req.Date,
			Period:     period,
			Subject:    strings.TrimSpace(req.Subject),
			Topic:      strings.TrimSpace(req.Topic),
			Content:    encoded,
			RecordType: content.RecordType(),
			PhotoURL:   content.PhotoURL,
			Timestamp:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.Put(ctx, store.LessonKey(req.StudentID, req.Date, period), fields, true); err != nil {
			return nil, fmt.Errorf("save lesson period %d: %w", period, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"student_id":  req.StudentID,
		"date":        req.Date,
		"periods":     periods,
		"record_type": content.RecordType(),
	}).Info("lesson saved")

	return &SaveResult{RecordType: content.RecordType(), PhotoURL: content.PhotoURL, Periods: periods}, nil
}

// ListByDate 某天的记录，已按课时分组。
func (s *Service) ListByDate(ctx context.Context, studentID, date string) ([]Block, error) {
	records, err := s.list(ctx, store.Query{
		Collection: store.CollectionLessons,
		StudentID:  studentID,
		IDPrefix:   date + "_",
	})
	if err != nil {
		return nil, err
	}
	return GroupPeriods(records), nil
}

// Day 某一天的分组记录。
type Day struct {
	Date   string  `json:"date"`
	Blocks []Block `json:"blocks"`
}

// ListBySubject 某科目的全部记录，日期从新到旧。
func (s *Service) ListBySubject(ctx context.Context, studentID, subject string) ([]Day, error) {
	records, err := s.list(ctx, store.Query{
		Collection: store.CollectionLessons,
		StudentID:  studentID,
		Equals:     map[string]string{"subject": subject},
	})
	if err != nil {
		return nil, err
	}

	byDate := make(map[string][]model.LessonRecord)
	for _, r := range records {
		byDate[r.Date] = append(byDate[r.Date], r)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	days := make([]Day, 0, len(dates))
	for _, d := range dates {
		days = append(days, Day{Date: d, Blocks: GroupPeriods(byDate[d])})
	}
	return days, nil
}

func (s *Service) list(ctx context.Context, q store.Query) ([]model.LessonRecord, error) {
	docs, err := s.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	out := make([]model.LessonRecord, 0, len(docs))
	for _, d := range docs {
		var r model.LessonRecord
		if err := store.Decode(d.Fields, &r); err != nil {
			s.log.WithError(err).WithField("key", d.Key.String()).Warn("skip malformed lesson record")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
