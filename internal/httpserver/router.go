package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"milestonehub/internal/api"
)

// ReadyCheck reports whether the backing stores are reachable.
type ReadyCheck func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	projectHandler *api.ProjectHandler,
	sessionHandler *api.SessionHandler,
	ready ReadyCheck,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), AccessLogMiddleware(logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Catalog
	r.GET("/projects", projectHandler.ListProjects)
	r.GET("/projects/:pid", projectHandler.GetProject)
	r.POST("/projects/:pid/milestones/:mid/sessions", sessionHandler.OpenSession)

	// Sessions
	sessions := r.Group("/sessions/:sid")
	{
		sessions.GET("", sessionHandler.GetSession)
		sessions.DELETE("", sessionHandler.DiscardSession)

		sessions.GET("/files", sessionHandler.ListFiles)
		sessions.POST("/files", sessionHandler.RegisterFile)
		sessions.DELETE("/files/:fid", sessionHandler.WithdrawFile)
		sessions.POST("/files/:fid/retry", sessionHandler.RetryFile)

		sessions.POST("/checklist/:item/toggle", sessionHandler.ToggleChecklist)
		sessions.PUT("/checklist/:item", sessionHandler.SetChecklist)
		sessions.GET("/readiness", sessionHandler.GetReadiness)

		sessions.POST("/submit", sessionHandler.Submit)
	}

	return &Router{Engine: r}
}

// Serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests for at most shutdownTimeout.
func (r *Router) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
