package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/metrics"
	"github.com/psds-microservice/conversation-router/internal/model"
)

const (
	defaultQueueLimit = 100
	maxQueueLimit     = 1000
)

type BusinessHours interface {
	IsWithinBusinessHours(ctx context.Context, now time.Time) bool
	NextBusinessHoursOpening(ctx context.Context, now time.Time) time.Time
}

type MetricsReader interface {
	DailyMetric(ctx context.Context, date string) (*model.DailyMetric, error)
}

type QueueReader interface {
	Pending(ctx context.Context, limit int) ([]model.QueueEntry, error)
}

type RoutingHandler struct {
	hours   BusinessHours
	metrics MetricsReader
	queue   QueueReader
	now     func() time.Time
}

func NewRoutingHandler(hours BusinessHours, metrics MetricsReader, queue QueueReader) *RoutingHandler {
	return &RoutingHandler{hours: hours, metrics: metrics, queue: queue, now: time.Now}
}

func (h *RoutingHandler) BusinessHoursStatus(c *gin.Context) {
	ctx := c.Request.Context()
	now := h.now()
	open := h.hours.IsWithinBusinessHours(ctx, now)
	resp := gin.H{"open": open, "time": now.UTC()}
	if !open {
		resp["nextOpening"] = h.hours.NextBusinessHoursOpening(ctx, now).UTC()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RoutingHandler) DailyMetric(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse(metrics.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	m, err := h.metrics.DailyMetric(c.Request.Context(), date)
	if err != nil {
		if errors.Is(err, errs.ErrMetricNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no metrics for date"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *RoutingHandler) Queue(c *gin.Context) {
	limit := defaultQueueLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxQueueLimit)
	}
	entries, err := h.queue.Pending(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load queue"})
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "total": len(entries)})
}
