// Package routing reacts to conversation lifecycle events: it tags business
// hours, defers out-of-hours work, assigns agents and records resolution metrics.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/conversation-router/internal/deadline"
	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/events"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

// Source marks events published by the orchestrator.
const Source = "routing"

type Store interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	MarkHoursEvaluation(ctx context.Context, id string, outside bool) (updated bool, err error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (first bool, err error)
}

type HoursEvaluator interface {
	IsWithinBusinessHours(ctx context.Context, now time.Time) bool
}

type ReplyGuard interface {
	MaybeSendOutOfHoursReply(ctx context.Context, conv *model.Conversation) (bool, error)
}

type Scheduler interface {
	ScheduleForBusinessHours(ctx context.Context, conv *model.Conversation) (*model.QueueEntry, error)
	ScheduleRetry(ctx context.Context, conv *model.Conversation, reason string, attempt int) (*model.QueueEntry, error)
	RetryEnabled() bool
}

type Assigner interface {
	ApplyAssignmentRules(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool)
}

type MetricsRecorder interface {
	RecordClose(ctx context.Context, conv *model.Conversation, closedAt time.Time) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, payload events.Payload, source string) events.Event
}

type Deps struct {
	Store     Store
	Hours     HoursEvaluator
	Guard     ReplyGuard
	Scheduler Scheduler
	Assigner  Assigner
	Metrics   MetricsRecorder
	Publisher Publisher
}

type Orchestrator struct {
	Deps
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewOrchestrator(deps Deps, timeout time.Duration, now func() time.Time, logger *zap.Logger) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{Deps: deps, timeout: timeout, now: now, logger: logger}
}

// Register subscribes the lifecycle handlers and returns their unsubscribe funcs.
func (o *Orchestrator) Register(bus *events.Bus) []func() {
	return []func(){
		events.On(bus, o.HandleConversationCreated),
		events.On(bus, o.HandleMessageCreated),
		events.On(bus, o.HandleConversationClosed),
	}
}

// EvaluateConversation tags conv with its business-hours state the first time
// it is seen. When this call tags it outside hours, the out-of-hours reply and
// the deferred re-processing are triggered and deferred is true. It never
// fails: on errors the input is returned unchanged.
func (o *Orchestrator) EvaluateConversation(ctx context.Context, conv *model.Conversation) (out *model.Conversation, deferred bool) {
	if conv.HoursEvaluation() != model.HoursUnevaluated {
		return conv, false
	}
	log := o.logger.With(zap.String("conversation_id", conv.ID))

	outside := !o.Hours.IsWithinBusinessHours(ctx, o.now())

	cctx, cancel := deadline.With(ctx, o.timeout)
	updated, err := o.Store.MarkHoursEvaluation(cctx, conv.ID, outside)
	cancel()
	if err != nil {
		log.Warn("routing: failed to persist business-hours evaluation", zap.Error(err))
		return conv, false
	}
	if !updated {
		// evaluated concurrently; the stored value wins
		fresh, err := o.load(ctx, conv.ID)
		if err != nil {
			log.Warn("routing: failed to reload conversation", zap.Error(err))
			return conv, false
		}
		return fresh, false
	}

	tagged := *conv
	tagged.ReceivedOutsideBusinessHours = &outside
	log.Info("routing: business hours evaluated", zap.Stringer("state", tagged.HoursEvaluation()))
	if !outside {
		return &tagged, false
	}

	o.deferOutOfHours(ctx, &tagged)
	return &tagged, true
}

func (o *Orchestrator) deferOutOfHours(ctx context.Context, conv *model.Conversation) {
	log := o.logger.With(zap.String("conversation_id", conv.ID))
	if _, err := o.Guard.MaybeSendOutOfHoursReply(ctx, conv); err != nil {
		log.Warn("routing: out-of-hours reply failed", zap.Error(err))
	}
	if _, err := o.Scheduler.ScheduleForBusinessHours(ctx, conv); err != nil {
		log.Warn("routing: failed to defer conversation", zap.Error(err))
	}
}

func (o *Orchestrator) HandleConversationCreated(ctx context.Context, p events.ConversationCreatedPayload, evt events.Event) error {
	if !o.firstDelivery(ctx, evt) {
		return nil
	}
	conv, err := o.load(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	if conv.Status != model.ConversationStatusOpen {
		o.logger.Debug("routing: skipping conversation that is not open",
			zap.String("conversation_id", conv.ID), zap.String("status", string(conv.Status)))
		return nil
	}

	conv, deferred := o.EvaluateConversation(ctx, conv)
	if deferred {
		return nil
	}
	if conv.HoursEvaluation() == model.HoursOutside && !o.Hours.IsWithinBusinessHours(ctx, o.now()) {
		// re-delivered before opening time
		if _, err := o.Scheduler.ScheduleForBusinessHours(ctx, conv); err != nil {
			return fmt.Errorf("reschedule conversation %s: %w", conv.ID, err)
		}
		return nil
	}

	conv, assigned := o.assign(ctx, conv)
	if !assigned && !conv.IsAssigned() && o.Scheduler.RetryEnabled() {
		if _, err := o.Scheduler.ScheduleRetry(ctx, conv, model.QueueReasonNoAssignee, p.Attempt+1); err != nil {
			return fmt.Errorf("schedule retry for %s: %w", conv.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) HandleMessageCreated(ctx context.Context, p events.MessageCreatedPayload, evt events.Event) error {
	if !o.firstDelivery(ctx, evt) {
		return nil
	}
	if p.ID != "" {
		cctx, cancel := deadline.With(ctx, o.timeout)
		msg, err := o.Store.GetMessage(cctx, p.ID)
		cancel()
		switch {
		case errors.Is(err, errs.ErrMessageNotFound):
			o.logger.Warn("routing: message not found, routing conversation anyway", zap.String("message_id", p.ID))
		case err != nil:
			return fmt.Errorf("load message %s: %w", p.ID, err)
		case msg.SenderType == model.SenderSystem || msg.AutoResponse:
			return nil
		}
	}

	conv, err := o.load(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	if conv.Status != model.ConversationStatusOpen {
		return nil
	}

	conv, deferred := o.EvaluateConversation(ctx, conv)
	if deferred {
		return nil
	}
	if !o.Hours.IsWithinBusinessHours(ctx, o.now()) {
		if _, err := o.Guard.MaybeSendOutOfHoursReply(ctx, conv); err != nil {
			return fmt.Errorf("out-of-hours reply for %s: %w", conv.ID, err)
		}
		return nil
	}
	if !conv.IsAssigned() {
		o.assign(ctx, conv)
	}
	return nil
}

func (o *Orchestrator) HandleConversationClosed(ctx context.Context, p events.ConversationClosedPayload, evt events.Event) error {
	if !o.firstDelivery(ctx, evt) {
		return nil
	}
	if p.PreviousStatus == string(model.ConversationStatusClosed) {
		return nil
	}
	conv, err := o.load(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	if conv.Status != model.ConversationStatusClosed {
		o.logger.Warn("routing: close event for conversation that is not closed",
			zap.String("conversation_id", conv.ID), zap.String("status", string(conv.Status)))
		return nil
	}

	closedAt := o.now()
	if conv.ClosedAt != nil {
		closedAt = *conv.ClosedAt
	}
	if _, err := o.Metrics.RecordClose(ctx, conv, closedAt); err != nil {
		return fmt.Errorf("record close of %s: %w", conv.ID, err)
	}
	return nil
}

func (o *Orchestrator) assign(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool) {
	previous := conv.Status
	updated, assigned := o.Assigner.ApplyAssignmentRules(ctx, conv)
	if !assigned {
		return updated, false
	}
	o.Publisher.Publish(ctx, events.ConversationAssignedPayload{
		ConversationID: updated.ID,
		AssignedTo:     *updated.AssignedTo,
		PreviousStatus: string(previous),
		Status:         string(updated.Status),
	}, Source)
	return updated, true
}

func (o *Orchestrator) load(ctx context.Context, id string) (*model.Conversation, error) {
	cctx, cancel := deadline.With(ctx, o.timeout)
	defer cancel()
	conv, err := o.Store.GetConversation(cctx, id)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return conv, nil
}

// firstDelivery records evt and reports whether it should be handled.
// Bookkeeping failures do not block processing.
func (o *Orchestrator) firstDelivery(ctx context.Context, evt events.Event) bool {
	if evt.ID == "" {
		return true
	}
	cctx, cancel := deadline.With(ctx, o.timeout)
	defer cancel()
	first, err := o.Store.MarkEventProcessed(cctx, evt.ID, string(evt.Type))
	if err != nil {
		o.logger.Warn("routing: failed to record processed event",
			zap.String("event_id", evt.ID), zap.String("event_type", string(evt.Type)), zap.Error(err))
		return true
	}
	if !first {
		o.logger.Info("routing: skipping redelivered event",
			zap.String("event_id", evt.ID), zap.String("event_type", string(evt.Type)))
	}
	return first
}
