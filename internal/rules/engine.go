package rules

import (
	"context"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/psds-microservice/conversation-router/internal/deadline"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

const rulesCacheKey = "enabled"

// RuleStore returns enabled rules ordered by priority, highest first.
type RuleStore interface {
	EnabledRules(ctx context.Context) ([]model.AssignmentRule, error)
}

// MessageReader returns the latest message of a conversation, nil when there is none.
type MessageReader interface {
	LastMessage(ctx context.Context, conversationID string) (*model.Message, error)
}

// Assigner writes assignedTo only if the conversation is still unassigned.
// assigned is false when another writer got there first.
type Assigner interface {
	AssignConversation(ctx context.Context, conversationID, userID string) (conv *model.Conversation, assigned bool, err error)
}

type Balancer interface {
	LeastLoadedMember(ctx context.Context, teamID string) (string, error)
}

type Notifier interface {
	NotifyAssignee(ctx context.Context, userID, conversationID string)
}

type Deps struct {
	Rules    RuleStore
	Messages MessageReader
	Assigner Assigner
	Balancer Balancer
	Notifier Notifier
}

type Engine struct {
	Deps
	cache   *cache.Cache
	timeout time.Duration
	logger  *zap.Logger
}

// NewEngine creates a rule engine. cacheTTL <= 0 disables caching of compiled rules.
func NewEngine(deps Deps, cacheTTL, timeout time.Duration, logger *zap.Logger) *Engine {
	e := &Engine{Deps: deps, timeout: timeout, logger: logger}
	if cacheTTL > 0 {
		e.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return e
}

// LoadRules fetches and compiles enabled rules, highest priority first.
func (e *Engine) LoadRules(ctx context.Context) ([]Rule, error) {
	if e.cache != nil {
		if v, found := e.cache.Get(rulesCacheKey); found {
			return v.([]Rule), nil
		}
	}
	cctx, cancel := deadline.With(ctx, e.timeout)
	defer cancel()
	stored, err := e.Rules.EnabledRules(cctx)
	if err != nil {
		return nil, err
	}
	compiled := make([]Rule, 0, len(stored))
	for _, r := range stored {
		compiled = append(compiled, Compile(r))
	}
	byPriority := func(i, j int) bool { return compiled[i].Priority > compiled[j].Priority }
	if !sort.SliceIsSorted(compiled, byPriority) {
		e.logger.Warn("rules: store returned rules out of priority order, re-sorting")
		sort.SliceStable(compiled, byPriority)
	}
	if e.cache != nil {
		e.cache.SetDefault(rulesCacheKey, compiled)
	}
	return compiled, nil
}

// Invalidate drops cached rules.
func (e *Engine) Invalidate() {
	if e.cache != nil {
		e.cache.Delete(rulesCacheKey)
	}
}

// ResolveAssignee turns a rule target into a user id. ok is false when the
// rule cannot produce an assignee.
func (e *Engine) ResolveAssignee(ctx context.Context, rule Rule) (string, bool) {
	switch rule.Target.Kind {
	case TargetUser:
		return rule.Target.ID, true
	case TargetGroup:
		userID, err := e.Balancer.LeastLoadedMember(ctx, rule.Target.ID)
		if err != nil {
			e.logger.Error("rules: failed to pick team member",
				zap.Uint64("rule_id", rule.ID), zap.String("team_id", rule.Target.ID), zap.Error(err))
			return "", false
		}
		if userID == "" {
			e.logger.Warn("rules: team has no members",
				zap.Uint64("rule_id", rule.ID), zap.String("team_id", rule.Target.ID))
			return "", false
		}
		return userID, true
	default:
		e.logger.Warn("rules: unassignable rule target",
			zap.Uint64("rule_id", rule.ID), zap.String("assign_to", rule.Target.ID))
		return "", false
	}
}

// ApplyAssignmentRules assigns an unassigned conversation using the first
// matching rule. It never fails: on any problem the input is returned and
// assigned is false.
func (e *Engine) ApplyAssignmentRules(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool) {
	if conv.IsAssigned() {
		return conv, false
	}
	log := e.logger.With(zap.String("conversation_id", conv.ID))

	compiled, err := e.LoadRules(ctx)
	if err != nil {
		log.Error("rules: failed to load assignment rules", zap.Error(err))
		return conv, false
	}
	if len(compiled) == 0 {
		log.Debug("rules: no enabled assignment rules")
		return conv, false
	}

	var last *model.Message
	if needsLastMessage(compiled) {
		cctx, cancel := deadline.With(ctx, e.timeout)
		last, err = e.Messages.LastMessage(cctx, conv.ID)
		cancel()
		if err != nil {
			// contains_ rules simply won't match
			log.Warn("rules: failed to load last message", zap.Error(err))
			last = nil
		}
	}

	rule := FindMatchingRule(conv, last, compiled)
	if rule == nil {
		log.Debug("rules: no rule matched")
		return conv, false
	}

	userID, ok := e.ResolveAssignee(ctx, *rule)
	if !ok {
		log.Warn("rules: matched rule produced no assignee", zap.Uint64("rule_id", rule.ID), zap.String("rule", rule.Raw))
		return conv, false
	}

	cctx, cancel := deadline.With(ctx, e.timeout)
	updated, assigned, err := e.Assigner.AssignConversation(cctx, conv.ID, userID)
	cancel()
	if err != nil {
		log.Error("rules: failed to persist assignment", zap.String("user_id", userID), zap.Error(err))
		return conv, false
	}
	if !assigned {
		log.Info("rules: conversation was assigned concurrently, keeping existing assignee")
		return updated, false
	}

	log.Info("rules: conversation assigned",
		zap.Uint64("rule_id", rule.ID), zap.String("rule", rule.Raw), zap.String("user_id", userID))
	e.Notifier.NotifyAssignee(ctx, userID, conv.ID)
	return updated, true
}
