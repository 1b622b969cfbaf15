package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonehub/internal/model"
	"milestonehub/pkg/logger"
)

// ProjectLister is the read side of the catalog the dashboard browses.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]model.Project, error)
	GetProject(ctx context.Context, projectID string) (model.Project, error)
}

type ProjectHandler struct {
	projects ProjectLister
	logger   *zap.Logger
}

func NewProjectHandler(projects ProjectLister, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, logger: logger}
}

// ListProjects handles GET /projects
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	projects, err := h.projects.ListProjects(c.Request.Context())
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("ListProjects: failed to fetch projects", zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// GetProject handles GET /projects/:pid
func (h *ProjectHandler) GetProject(c *gin.Context) {
	p, err := h.projects.GetProject(c.Request.Context(), c.Param("pid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
