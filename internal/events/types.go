package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/psds-microservice/conversation-router/internal/errs"
)

// Type is the closed set of routing events.
type Type string

const (
	ConversationCreated  Type = "conversation.created"
	ConversationAssigned Type = "conversation.assigned"
	ConversationClosed   Type = "conversation.closed"
	MessageCreated       Type = "message.created"
)

// Payload is implemented by the concrete payload of each event type.
type Payload interface {
	EventType() Type
}

// Event is an immutable envelope around one payload.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

type ConversationCreatedPayload struct {
	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId"`
	// Attempt counts no-assignee retries already made; 0 for fresh conversations.
	Attempt int `json:"attempt,omitempty"`
}

func (ConversationCreatedPayload) EventType() Type { return ConversationCreated }

type MessageCreatedPayload struct {
	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId,omitempty"`
	ID             string `json:"id"`
}

func (MessageCreatedPayload) EventType() Type { return MessageCreated }

type ConversationAssignedPayload struct {
	ConversationID string `json:"conversationId"`
	AssignedTo     string `json:"assignedTo"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Status         string `json:"status"`
}

func (ConversationAssignedPayload) EventType() Type { return ConversationAssigned }

type ConversationClosedPayload struct {
	ConversationID string `json:"conversationId"`
	// PreviousStatus is set by publishers that know the prior state; "closed" means no transition.
	PreviousStatus string `json:"previousStatus,omitempty"`
}

func (ConversationClosedPayload) EventType() Type { return ConversationClosed }

// DecodePayload turns a raw JSON payload into the concrete payload of t.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	switch t {
	case ConversationCreated:
		var p ConversationCreatedPayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" {
			return nil, fmt.Errorf("%w: conversationId is required", errs.ErrInvalidPayload)
		}
		return p, nil
	case MessageCreated:
		var p MessageCreatedPayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" {
			return nil, fmt.Errorf("%w: conversationId is required", errs.ErrInvalidPayload)
		}
		return p, nil
	case ConversationAssigned:
		var p ConversationAssignedPayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" || p.AssignedTo == "" {
			return nil, fmt.Errorf("%w: conversationId and assignedTo are required", errs.ErrInvalidPayload)
		}
		return p, nil
	case ConversationClosed:
		var p ConversationClosedPayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" {
			return nil, fmt.Errorf("%w: conversationId is required", errs.ErrInvalidPayload)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownEventType, t)
	}
}

func decodeInto(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", errs.ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidPayload, err)
	}
	return nil
}
