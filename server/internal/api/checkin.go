package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"grape-notebook/server/internal/checkin"
	"grape-notebook/server/internal/gateway"
	"grape-notebook/server/internal/model"
)

// checkinResponse 返回给前端的签到状态
type checkinResponse struct {
	State          model.CheckinState `json:"state"`
	CanSubmit      bool               `json:"can_submit"`
	PaletteVisible bool               `json:"palette_visible"`
}

func newCheckinResponse(st model.CheckinState) checkinResponse {
	return checkinResponse{State: st, CanSubmit: st.CanSubmit(), PaletteVisible: st.PaletteVisible()}
}

// checkinKey 从路径与 ?date= 取得对话标识，日期缺省为今天。
func (s *Server) checkinKey(c *gin.Context) model.CheckinKey {
	date := c.Query("date")
	if date == "" {
		date = s.today()
	}
	return model.CheckinKey{
		StudentID: c.Param("sid"),
		Date:      date,
		Variant:   model.Variant(c.Param("variant")),
	}
}

// handleOpenCheckin 打开或恢复签到对话。
func (s *Server) handleOpenCheckin(c *gin.Context) {
	conv, err := s.sessions.Conversation(c.Request.Context(), s.checkinKey(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckinResponse(conv.State()))
}

type checkinCommandRequest struct {
	Type    string `json:"type" binding:"required"`
	Text    string `json:"text"`
	Marker  string `json:"marker"`
	EventID string `json:"event_id"`
}

// handleCheckinCommand 执行一条命令，对话必须已经打开。
func (s *Server) handleCheckinCommand(c *gin.Context) {
	var req checkinCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cmd, err := checkin.ParseCommand(req.Type, req.Text, req.Marker, req.EventID)
	if err != nil {
		s.fail(c, err)
		return
	}

	conv, ok := s.sessions.Lookup(s.checkinKey(c))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	st, err := conv.Apply(c.Request.Context(), cmd)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckinResponse(st))
}

// handleCheckinStream 把对话接到 WebSocket 上，阻塞直到连接关闭。
func (s *Server) handleCheckinStream(c *gin.Context) {
	key := s.checkinKey(c)
	cfg := s.streamConfig()
	// after 为断线前收到的最后一个 event_seq
	if raw := c.Query("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		cfg.ResumeAfter = after
	}
	conv, err := s.sessions.Conversation(c.Request.Context(), key)
	if err != nil {
		s.fail(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).WithField("conversation", key.String()).Warn("websocket upgrade failed")
		return
	}
	s.log.WithField("conversation", key.String()).Info("stream connected")
	gateway.NewStream(conn, conv, cfg, s.log, s.metrics).Run()
	s.log.WithField("conversation", key.String()).Info("stream disconnected")
}
