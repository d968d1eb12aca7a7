package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

const webhookTimeout = 5 * time.Second

// WebhookClient отправляет уведомления о назначении в сервис операторов (best-effort, не блокирует маршрутизацию).
type WebhookClient struct {
	url    string
	http   *resty.Client
	logger *zap.Logger
}

// NewWebhookClient возвращает клиент. Если url пустой, вызовы Send — no-op.
func NewWebhookClient(url string, logger *zap.Logger) *WebhookClient {
	return &WebhookClient{
		url:    url,
		http:   resty.New().SetTimeout(webhookTimeout).SetHeader("Content-Type", "application/json"),
		logger: logger,
	}
}

func (c *WebhookClient) Enabled() bool { return c != nil && c.url != "" }

type webhookPayload struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *WebhookClient) Send(ctx context.Context, n *model.Notification) error {
	if !c.Enabled() {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			ID:             n.ID,
			UserID:         n.UserID,
			Type:           n.Type,
			ConversationID: n.ConversationID,
			Title:          n.Title,
			Body:           n.Body,
			CreatedAt:      n.CreatedAt,
		}).
		Post(c.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode()}
	}
	return nil
}

// SendAsync вызывает Send в отдельной горутине со своим таймаутом.
func (c *WebhookClient) SendAsync(n *model.Notification) {
	if !c.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := c.Send(ctx, n); err != nil {
			c.logger.Warn("notify: webhook delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}()
}

type StatusError struct{ Code int }

func (e *StatusError) Error() string {
	return "notify: webhook returned status " + strconv.Itoa(e.Code)
}
