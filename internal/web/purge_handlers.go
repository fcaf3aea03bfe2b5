// internal/web/purge_handlers.go
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harsxv/tinystatus/internal/monitoring"
	"github.com/sirupsen/logrus"
)

// DELETE /api/history?older_than=720h&group=&service=&dry_run=true
func (s *Server) pruneHistory(c *gin.Context) {
	filter := monitoring.PruneFilter{
		Group:   c.Query("group"),
		Service: c.Query("service"),
	}

	raw := c.Query("older_than")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than is required"})
		return
	}
	olderThan, err := time.ParseDuration(raw)
	if err != nil || olderThan <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration"})
		return
	}
	filter.OlderThan = olderThan

	if v := c.Query("dry_run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
			return
		}
		filter.DryRun = dryRun
	}

	n, err := s.engine.Pruner().Prune(c.Request.Context(), filter)
	s.metrics.RecordDatabaseOperation("prune", err)
	if err != nil {
		logrus.WithError(err).Error("Failed to prune history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prune history"})
		return
	}

	key := "deleted"
	if filter.DryRun {
		key = "would_delete"
	}
	c.JSON(http.StatusOK, gin.H{
		key:         n,
		"dry_run":   filter.DryRun,
		"timestamp": time.Now().UTC(),
	})
}

// POST /api/reset-db removes all health check history.
func (s *Server) resetDatabase(c *gin.Context) {
	n, err := s.engine.ResetDatabase(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Database reset failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Database reset successful",
		"deleted": n,
	})
}
