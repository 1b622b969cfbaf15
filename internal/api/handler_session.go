package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonehub/internal/model"
	"milestonehub/internal/submission"
	"milestonehub/pkg/logger"
)

type SessionHandler struct {
	coordinator *submission.Coordinator
	logger      *zap.Logger
}

func NewSessionHandler(coordinator *submission.Coordinator, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{coordinator: coordinator, logger: logger}
}

func (h *SessionHandler) session(c *gin.Context) (*submission.Session, bool) {
	s, err := h.coordinator.Session(c.Param("sid"))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return s, true
}

// OpenSession handles POST /projects/:pid/milestones/:mid/sessions
func (h *SessionHandler) OpenSession(c *gin.Context) {
	s, err := h.coordinator.Select(c.Request.Context(), c.Param("pid"), c.Param("mid"))
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("OpenSession: rejected",
			zap.String("project_id", c.Param("pid")),
			zap.String("milestone_id", c.Param("mid")),
			zap.Error(err),
		)
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.Summary())
}

// GetSession handles GET /sessions/:sid
func (h *SessionHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Summary())
}

// DiscardSession handles DELETE /sessions/:sid
func (h *SessionHandler) DiscardSession(c *gin.Context) {
	if err := h.coordinator.Discard(c.Param("sid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListFiles handles GET /sessions/:sid/files
func (h *SessionHandler) ListFiles(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"files":     s.Files(),
		"aggregate": s.Aggregate(),
	})
}

// RegisterFile handles POST /sessions/:sid/files
func (h *SessionHandler) RegisterFile(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Size int64  `json:"size" binding:"min=0"`
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	s, ok := h.session(c)
	if !ok {
		return
	}
	f, err := s.Register(model.FileDescriptor{Name: req.Name, Size: req.Size, Type: req.Type})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// WithdrawFile handles DELETE /sessions/:sid/files/:fid
func (h *SessionHandler) WithdrawFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	removed, err := s.Withdraw(c.Param("fid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// RetryFile handles POST /sessions/:sid/files/:fid/retry
func (h *SessionHandler) RetryFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	f, err := s.Retry(c.Param("fid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// ToggleChecklist handles POST /sessions/:sid/checklist/:item/toggle
func (h *SessionHandler) ToggleChecklist(c *gin.Context) {
	item, err := submission.ParseChecklistItem(c.Param("item"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	checked, err := s.Toggle(item)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item, "checked": checked, "ready": s.Readiness().Ready})
}

// SetChecklist handles PUT /sessions/:sid/checklist/:item
func (h *SessionHandler) SetChecklist(c *gin.Context) {
	var req struct {
		Checked *bool `json:"checked" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	item, err := submission.ParseChecklistItem(c.Param("item"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.SetChecklist(item, *req.Checked); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item, "checked": *req.Checked, "ready": s.Readiness().Ready})
}

// GetReadiness handles GET /sessions/:sid/readiness
func (h *SessionHandler) GetReadiness(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Readiness())
}

// Submit handles POST /sessions/:sid/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	// a client disconnect must not abort a submit that already reached the sink
	ctx := context.WithoutCancel(c.Request.Context())
	receipt, err := h.coordinator.Submit(ctx, c.Param("sid"), req.Notes)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
