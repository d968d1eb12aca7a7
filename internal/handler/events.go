package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/psds-microservice/conversation-router/internal/events"
	"go.uber.org/zap"
)

const defaultEventSource = "api"

type Dispatcher interface {
	Dispatch(ctx context.Context, evt events.Event)
}

type EventHandler struct {
	bus    Dispatcher
	logger *zap.Logger
}

func NewEventHandler(bus Dispatcher, logger *zap.Logger) *EventHandler {
	return &EventHandler{bus: bus, logger: logger}
}

type ingestRequest struct {
	ID      string          `json:"id"`
	Type    events.Type     `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
	Source  string          `json:"source"`
}

// Ingest декодирует входящее событие и синхронно его рассылает: к моменту
// ответа 202 все обработчики уже отработали.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	payload, err := events.DecodePayload(req.Type, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Source == "" {
		req.Source = defaultEventSource
	}

	h.bus.Dispatch(c.Request.Context(), events.Event{ID: req.ID, Payload: payload, Source: req.Source})
	h.logger.Debug("event ingested", zap.String("event_id", req.ID), zap.String("event_type", string(req.Type)))
	c.JSON(http.StatusAccepted, gin.H{"id": req.ID, "type": req.Type})
}
