package model

import "time"

// 持久化记录的字段名沿用线上数据的 camelCase，缺失字段一律按零值处理。

// EmotionRecord 对应 students/{uid}/emotions/{date}。
type EmotionRecord struct {
	Date      string `json:"date,omitempty"`
	StudentID string `json:"studentId,omitempty"`

	MorningEmotion  *string   `json:"morningEmotion"`
	MorningChat     []Turn    `json:"morningChat"`
	MorningSummary  string    `json:"morningSummary"`
	MorningRecorded bool      `json:"morningRecorded"`
	Timestamp       time.Time `json:"timestamp,omitempty"`

	ClosingEmotion string    `json:"closingEmotion,omitempty"`
	ClosingChat    []Turn    `json:"closingChat,omitempty"`
	ClosingSummary string    `json:"closingSummary,omitempty"`
	Submitted      bool      `json:"submitted,omitempty"`
	SubmittedAt    time.Time `json:"submittedAt,omitempty"`

	Feedbacks []Feedback `json:"feedbacks,omitempty"`
	// 旧结构只有单条老师反馈，保留以便迁移。
	TeacherEmoji    *string    `json:"teacherEmoji,omitempty"`
	TeacherFeedback *string    `json:"teacherFeedback,omitempty"`
	EvaluatedAt     *time.Time `json:"evaluatedAt,omitempty"`
	EvaluatedBy     *string    `json:"evaluatedBy,omitempty"`
}

// Morning 返回早晨标记，未记录时为空串。
func (r *EmotionRecord) Morning() string {
	if r == nil || r.MorningEmotion == nil {
		return ""
	}
	return *r.MorningEmotion
}

// Recorded 判断某个签到类型是否已经完成。
func (r *EmotionRecord) Recorded(v Variant) bool {
	if r == nil {
		return false
	}
	switch v {
	case VariantMorning:
		return r.MorningRecorded && r.Morning() != ""
	case VariantClosing:
		return r.Submitted
	}
	return false
}

// Feedback 老师对某一天的反馈，每条反馈在学生端是一颗葡萄。
type Feedback struct {
	Emoji     string    `json:"emoji"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	TeacherID string    `json:"teacherId"`
}

// Submission 对应 submissions/{uid}_{date}，老师端按日期查询的索引。
type Submission struct {
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Date        string    `json:"date"`
	SubmittedAt time.Time `json:"submittedAt"`
	Status      string    `json:"status"`
}

// UserProfile 对应 users/{uid}。
type UserProfile struct {
	DisplayName  string `json:"displayName,omitempty"`
	CustomName   string `json:"customName,omitempty"`
	Email        string `json:"email,omitempty"`
	ProfileEmoji string `json:"profileEmoji,omitempty"`
	Role         string `json:"role,omitempty"`
}

// Name 按 customName > displayName > email 的优先级取展示名。
func (u UserProfile) Name() string {
	switch {
	case u.CustomName != "":
		return u.CustomName
	case u.DisplayName != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	}
	return "알 수 없음"
}

// LessonRecord 对应 students/{uid}/lessons/{date}_{period}。
// Content 是序列化后的 lesson.Content，分组时按字节比较。
type LessonRecord struct {
	Date       string    `json:"date"`
	Period     int       `json:"period"`
	Subject    string    `json:"subject"`
	Topic      string    `json:"topic"`
	Content    string    `json:"content"`
	RecordType string    `json:"recordType"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
