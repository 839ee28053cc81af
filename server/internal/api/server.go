package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/checkin"
	"grape-notebook/server/internal/config"
	"grape-notebook/server/internal/domain"
	"grape-notebook/server/internal/gateway"
	"grape-notebook/server/internal/lesson"
	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/metrics"
	"grape-notebook/server/internal/model"
	"grape-notebook/server/internal/review"
	"grape-notebook/server/internal/session"
	"grape-notebook/server/internal/store"
)

// Deps 服务依赖
type Deps struct {
	Config   *config.Config
	Sessions *session.Registry
	Lessons  *lesson.Service
	Review   *review.Service
	// Script 提供标记面板，nil 时使用内置台词
	Script  *domain.Script
	Metrics *metrics.Metrics
	// Gatherer 为 /metrics 提供数据，nil 时使用默认 registry
	Gatherer prometheus.Gatherer
	// StreamPacer 控制逐字显示，nil 时按真实时间等待
	StreamPacer checkin.Pacer
	Log         logrus.FieldLogger
}

type Server struct {
	config   *config.Config
	sessions *session.Registry
	lessons  *lesson.Service
	review   *review.Service
	script   *domain.Script
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	pacer    checkin.Pacer
	log      logrus.FieldLogger
	loc      *time.Location
	now      func() time.Time

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Sessions == nil || deps.Lessons == nil || deps.Review == nil {
		return nil, errors.New("config, sessions, lessons and review are required")
	}
	loc, err := time.LoadLocation(deps.Config.Checkin.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	if deps.Script == nil {
		deps.Script = domain.DefaultScript()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   deps.Config,
		sessions: deps.Sessions,
		lessons:  deps.Lessons,
		review:   deps.Review,
		script:   deps.Script,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		pacer:    deps.StreamPacer,
		log:      deps.Log,
		loc:      loc,
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin(origin)
		},
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	if s.config.Blob.Driver == "local" && s.config.Blob.LocalDir != "" {
		engine.Static("/files", s.config.Blob.LocalDir)
	}

	students := engine.Group("/api/students/:sid")
	students.POST("/checkins/:variant", s.handleOpenCheckin)
	students.POST("/checkins/:variant/commands", s.handleCheckinCommand)
	students.GET("/checkins/:variant/stream", s.handleCheckinStream)

	students.POST("/canvas", s.handleOpenCanvas)
	students.POST("/canvas/commands", s.handleCanvasCommand)
	students.POST("/canvas/export", s.handleCanvasExport)

	students.POST("/lessons", s.handleSaveLesson)
	students.GET("/lessons", s.handleLessonsByDate)
	students.GET("/lessons/by-subject", s.handleLessonsBySubject)
	students.GET("/grapes", s.handleGrapes)

	teacher := engine.Group("/api/review")
	teacher.GET("/palette", s.handleFeedbackPalette)
	teacher.GET("/calendar", s.handleCalendar)
	teacher.GET("/submissions", s.handleSubmissions)
	teacher.GET("/students/:sid/days/:date", s.handleStudentDay)
	teacher.POST("/students/:sid/days/:date/feedback", s.handleSendFeedback)
	teacher.DELETE("/students/:sid/days/:date/feedback", s.handleRecallFeedback)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	conversations, canvases := s.sessions.Counts()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "conversations": conversations, "canvases": canvases})
}

// today 按配置的时区取当天日期。
func (s *Server) today() string {
	return s.now().In(s.loc).Format("2006-01-02")
}

// fail 把错误映射为 HTTP 状态码。内部错误只记日志，返回给前端的信息保持简洁。
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, checkin.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, checkin.ErrConversationClosed):
		c.JSON(http.StatusGone, gin.H{"error": "conversation expired, please reopen"})
	default:
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) allowedOrigin(origin string) bool {
	return slices.Contains(s.config.Server.AllowedOrigins, origin)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.allowedOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// streamConfig 由配置生成
func (s *Server) streamConfig() gateway.StreamConfig {
	return gateway.StreamConfig{
		RevealInterval: s.config.Checkin.RevealInterval,
		PingInterval:   s.config.Session.PingInterval,
		WriteTimeout:   s.config.Server.WriteTimeout,
		Pacer:          s.pacer,
	}
}
