package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"grape-notebook/server/internal/canvas"
)

// handleOpenCanvas 取得学生当前画布，?reset=true 时换一块新的。
func (s *Server) handleOpenCanvas(c *gin.Context) {
	sid := c.Param("sid")
	var ctrl *canvas.Controller
	if c.Query("reset") == "true" {
		ctrl = s.sessions.ResetCanvas(sid)
	} else {
		ctrl = s.sessions.Canvas(sid)
	}
	c.JSON(http.StatusOK, ctrl.State())
}

type canvasCommandRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleCanvasCommand(c *gin.Context) {
	var req canvasCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cmd, err := canvas.DecodeCommand(req.Type, req.Payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctrl, err := s.sessions.LookupCanvas(c.Param("sid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	st, err := ctrl.Apply(cmd)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleCanvasExport(c *gin.Context) {
	ctrl, err := s.sessions.LookupCanvas(c.Param("sid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	exp, err := ctrl.Export()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}
