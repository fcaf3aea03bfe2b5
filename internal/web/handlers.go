// internal/web/handlers.go
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harsxv/tinystatus/internal/database"
	"github.com/harsxv/tinystatus/internal/monitoring"
	"github.com/sirupsen/logrus"
)

const defaultHistoryHours = 24

// GroupStatus is one group of the status response, in configured order.
type GroupStatus struct {
	Title    string                   `json:"title"`
	Services []monitoring.CheckResult `json:"services"`
}

func statusPayload(snap *monitoring.Snapshot) gin.H {
	groups := make([]GroupStatus, 0, len(snap.Order))
	for _, title := range snap.Order {
		groups = append(groups, GroupStatus{Title: title, Services: snap.Groups[title]})
	}
	return gin.H{
		"groups":       groups,
		"last_updated": snap.TakenAt,
	}
}

func (s *Server) getStatus(c *gin.Context) {
	snap, err := s.engine.Scheduler().CheckAllServices(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to check services")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check services"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statusPayload(snap)})
}

func parseHours(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("hours", strconv.Itoa(defaultHistoryHours))
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a non-negative integer"})
		return 0, false
	}
	return hours, true
}

func timeframe(hours int) string {
	return fmt.Sprintf("Last %d hours", hours)
}

func (s *Server) getHistory(c *gin.Context) {
	hours, ok := parseHours(c)
	if !ok {
		return
	}

	view, err := s.engine.History().Combined(c.Request.Context(), hours)
	if err != nil {
		logrus.WithError(err).Error("Failed to get history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history":   view.History,
		"uptimes":   view.Uptimes,
		"timeframe": timeframe(hours),
	})
}

func (s *Server) getGroupHistory(c *gin.Context) {
	hours, ok := parseHours(c)
	if !ok {
		return
	}

	group, err := s.engine.History().Group(c.Request.Context(), c.Param("group"), hours)
	if err != nil {
		if errors.Is(err, monitoring.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
			return
		}
		logrus.WithError(err).Error("Failed to get group history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history":   group.Services,
		"uptime":    group.Uptime,
		"timeframe": timeframe(hours),
	})
}

// decodeSubmission picks the submission variant from the status field.
func decodeSubmission(body []byte) (monitoring.Submission, error) {
	var head struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, err
	}

	switch database.KindOf(head.Status) {
	case database.KindCheck:
		var sub monitoring.HealthCheckSubmission
		err := json.Unmarshal(body, &sub)
		return sub, err
	case database.KindRecovery:
		var sub monitoring.RecoverySubmission
		err := json.Unmarshal(body, &sub)
		return sub, err
	case database.KindNotification:
		var sub monitoring.NotificationSubmission
		err := json.Unmarshal(body, &sub)
		return sub, err
	default:
		return nil, fmt.Errorf("%w: status %q", database.ErrUnknownRecordKind, head.Status)
	}
}

func (s *Server) createHealthCheck(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := decodeSubmission(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.engine.Recorder().Record(c.Request.Context(), sub)
	if err != nil {
		if errors.Is(err, monitoring.ErrKindMismatch) || errors.Is(err, monitoring.ErrInvalidSubmission) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logrus.WithError(err).Error("Failed to create health check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create health check"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": record})
}

func (s *Server) getLatestHealthChecks(c *gin.Context) {
	records, err := s.engine.Recorder().Latest(c.Request.Context(), monitoring.LatestFilters{
		Group:    c.Query("service_group"),
		Service:  c.Query("service_name"),
		PublicIP: c.Query("public_ip"),
		Status:   c.Query("status"),
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to get latest health checks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest health checks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  monitoring.Describe(records),
		"count": len(records),
	})
}

func (s *Server) createRecovery(c *gin.Context) {
	var req monitoring.RecoverySubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status == "" {
		req.Status = database.StatusRecoveryStarted
	}

	state, err := s.engine.ReportRecovery(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, monitoring.ErrInvalidRecovery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logrus.WithError(err).Error("Failed to record recovery")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record recovery"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": state})
}

func (s *Server) getLatestRecovery(c *gin.Context) {
	state, err := s.engine.Recovery().Latest(c.Request.Context(), database.RecoveryFilters{
		Service:  c.Query("service_name"),
		Group:    c.Query("service_group"),
		PublicIP: c.Query("public_ip"),
		Status:   c.Query("status"),
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to get recovery data")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recovery data"})
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No recovery data found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

func (s *Server) getPublicHealth(c *gin.Context) {
	var freshness time.Duration
	if raw := c.Query("freshness"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "freshness must be a positive duration"})
			return
		}
		freshness = d
	}

	services, err := s.engine.PublicHealth(c.Request.Context(), freshness)
	if err != nil {
		logrus.WithError(err).Error("Failed to get public health")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get public health"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  services,
		"count": len(services),
	})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.engine.Store().GetDatabaseStats(c.Request.Context())
	s.metrics.RecordDatabaseOperation("get_stats", err)
	if err != nil {
		logrus.WithError(err).Error("Failed to get database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get database stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) healthCheck(c *gin.Context) {
	now := time.Now().UTC()

	if _, err := s.engine.Store().GetDatabaseStats(c.Request.Context()); err != nil {
		logrus.WithError(err).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": now,
		})
		return
	}

	monitorStatus := "stopped"
	if s.engine.IsRunning() {
		monitorStatus = "running"
	}

	var lastCheck *time.Time
	if t := s.engine.Scheduler().LastRefresh(); !t.IsZero() {
		t = t.UTC()
		lastCheck = &t
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      now,
		"version":        Version,
		"database":       "connected",
		"monitor_status": monitorStatus,
		"last_check":     lastCheck,
		"uptime":         time.Since(s.engine.StartTime()).Seconds(),
	})
}
