// Package server is the loopback HTTP surface the UI layer and operators
// consume: sync status, manual triggers, outbox inspection and retry, draft
// persistence, and metrics. It binds to localhost only and carries no
// authentication; tenancy is the caller's concern.
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smallbiznis/syncbox/internal/draft"
	"github.com/smallbiznis/syncbox/internal/logging"
	"github.com/smallbiznis/syncbox/internal/outbox"
	"github.com/smallbiznis/syncbox/internal/syncengine"
)

type Server struct {
	engine *syncengine.Engine
	queue  *outbox.Queue
	drafts *draft.Saver
	log    *zap.Logger
}

func New(engine *syncengine.Engine, queue *outbox.Queue, drafts *draft.Saver, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, queue: queue, drafts: drafts, log: log.Named("server")}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware(s.log))

	r.GET("/healthz", s.Healthz)
	r.GET("/status", s.GetStatus)
	r.POST("/sync/trigger", s.TriggerSync)
	r.GET("/outbox/entries", s.ListOutboxEntries)
	r.POST("/outbox/entries/:id/retry", s.RetryOutboxEntry)
	r.POST("/outbox/cleanup", s.CleanupOutbox)
	r.GET("/drafts/:businessID", s.GetDraft)
	r.PUT("/drafts/:businessID", s.PutDraft)
	r.DELETE("/drafts/:businessID", s.DeleteDraft)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) TriggerSync(c *gin.Context) {
	if err := s.engine.TriggerSync(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) ListOutboxEntries(c *gin.Context) {
	state := outbox.State(c.DefaultQuery("state", string(outbox.StatePending)))
	switch state {
	case outbox.StatePending, outbox.StateSynced, outbox.StateFailed:
	default:
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	entries, err := s.queue.Entries(c.Request.Context(), state)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) RetryOutboxEntry(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.queue.Requeue(c.Request.Context(), uint(id)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "requeued"})
}

func (s *Server) CleanupOutbox(c *gin.Context) {
	removed, err := s.queue.ClearSynced(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) GetDraft(c *gin.Context) {
	form, err := s.drafts.Load(c.Request.Context(), c.Param("businessID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (s *Server) PutDraft(c *gin.Context) {
	var form draft.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.drafts.Update(c.Param("businessID"), form); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

func (s *Server) DeleteDraft(c *gin.Context) {
	if err := s.drafts.Clear(c.Request.Context(), c.Param("businessID")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
