package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"grape-notebook/server/internal/canvas"
	"grape-notebook/server/internal/lesson"
	"grape-notebook/server/internal/review"
)

type saveLessonRequest struct {
	Date    string  `json:"date"`
	Periods []int   `json:"periods" binding:"required"`
	Subject string  `json:"subject" binding:"required"`
	Topic   string  `json:"topic"`
	Text    *string `json:"text"`
	// Drawing 为 true 时导出学生当前画布
	Drawing bool `json:"drawing"`
	// Photo 为 base64 编码的图片
	Photo []byte `json:"photo"`
}

// handleSaveLesson 保存学习笔记。使用了画布时保存成功后换一块新画布。
func (s *Server) handleSaveLesson(c *gin.Context) {
	var req saveLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sid := c.Param("sid")
	if req.Date == "" {
		req.Date = s.today()
	}

	var drawing *canvas.Export
	if req.Drawing {
		ctrl, err := s.sessions.LookupCanvas(sid)
		if err != nil {
			s.fail(c, err)
			return
		}
		if drawing, err = ctrl.Export(); err != nil {
			s.fail(c, err)
			return
		}
	}

	res, err := s.lessons.Save(c.Request.Context(), lesson.SaveRequest{
		StudentID: sid,
		Date:      req.Date,
		Periods:   req.Periods,
		Subject:   req.Subject,
		Topic:     req.Topic,
		Text:      req.Text,
		Drawing:   drawing,
		Photo:     req.Photo,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.Drawing {
		s.sessions.ResetCanvas(sid)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleLessonsByDate(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = s.today()
	}
	blocks, err := s.lessons.ListByDate(c.Request.Context(), c.Param("sid"), date)
	if err != nil {
		s.fail(c, err)
		return
	}
	if blocks == nil {
		blocks = []lesson.Block{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "blocks": blocks})
}

func (s *Server) handleLessonsBySubject(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject required"})
		return
	}
	days, err := s.lessons.ListBySubject(c.Request.Context(), c.Param("sid"), subject)
	if err != nil {
		s.fail(c, err)
		return
	}
	if days == nil {
		days = []lesson.Day{}
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "days": days})
}

func (s *Server) handleGrapes(c *gin.Context) {
	board, err := s.review.Grapes(c.Request.Context(), c.Param("sid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (s *Server) handleCalendar(c *gin.Context) {
	month := c.Query("month")
	if month == "" {
		month = s.now().In(s.loc).Format("2006-01")
	}
	counts, err := s.review.Calendar(c.Request.Context(), month)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"month": month, "counts": counts})
}

func (s *Server) handleSubmissions(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = s.today()
	}
	subs, err := s.review.Submissions(c.Request.Context(), date)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "students": subs})
}

func (s *Server) handleStudentDay(c *gin.Context) {
	day, err := s.review.StudentDay(c.Request.Context(), c.Param("sid"), c.Param("date"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, day)
}

// handleFeedbackPalette 老师反馈可选的表情。
func (s *Server) handleFeedbackPalette(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markers": s.script.FeedbackMarkers})
}

type feedbackRequest struct {
	TeacherID string `json:"teacher_id" binding:"required"`
	Emoji     string `json:"emoji" binding:"required"`
	Text      string `json:"text"`
}

func (s *Server) handleSendFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "teacher_id and emoji required"})
		return
	}
	fbs, err := s.review.SendFeedback(c.Request.Context(), review.FeedbackRequest{
		StudentID: c.Param("sid"),
		Date:      c.Param("date"),
		TeacherID: req.TeacherID,
		Emoji:     req.Emoji,
		Text:      req.Text,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedbacks": fbs})
}

func (s *Server) handleRecallFeedback(c *gin.Context) {
	if err := s.review.RecallFeedback(c.Request.Context(), c.Param("sid"), c.Param("date")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
