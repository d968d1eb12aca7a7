package rules

import (
	"strings"

	"github.com/psds-microservice/conversation-router/internal/model"
)

type MatcherKind int

const (
	MatchNone MatcherKind = iota
	MatchChannel
	MatchContains
	MatchCustomerPriority
)

// Matcher is the decoded form of a "<type>_<value>" rule string.
type Matcher struct {
	Kind  MatcherKind
	Value string
}

const customerPriorityHigh = "priority_high"

// ParseMatcher decodes a rule string. Unsupported rules decode to MatchNone.
func ParseMatcher(rule string) Matcher {
	kind, value, ok := strings.Cut(rule, "_")
	if !ok {
		return Matcher{Kind: MatchNone, Value: rule}
	}
	switch kind {
	case "channel":
		return Matcher{Kind: MatchChannel, Value: value}
	case "contains":
		return Matcher{Kind: MatchContains, Value: value}
	case "customer":
		if value == customerPriorityHigh {
			return Matcher{Kind: MatchCustomerPriority, Value: string(model.PriorityHigh)}
		}
	}
	return Matcher{Kind: MatchNone, Value: rule}
}

// Match evaluates the matcher. lastMessage may be nil.
func (m Matcher) Match(conv *model.Conversation, lastMessage *model.Message) bool {
	switch m.Kind {
	case MatchChannel:
		return strings.Contains(conv.ChannelID, m.Value)
	case MatchContains:
		if lastMessage == nil {
			return false
		}
		return strings.Contains(strings.ToLower(lastMessage.Content), strings.ToLower(m.Value))
	case MatchCustomerPriority:
		return string(conv.Priority) == m.Value
	default:
		return false
	}
}

type TargetKind int

const (
	TargetInvalid TargetKind = iota
	TargetUser
	TargetGroup
)

// Target is the decoded assignTo of a rule.
type Target struct {
	Kind TargetKind
	// ID is the full "user-<id>" for users and the bare team id for groups.
	ID string
}

func ParseTarget(assignTo string) Target {
	switch {
	case strings.HasPrefix(assignTo, "user-"):
		return Target{Kind: TargetUser, ID: assignTo}
	case strings.HasPrefix(assignTo, "group-"):
		return Target{Kind: TargetGroup, ID: strings.TrimPrefix(assignTo, "group-")}
	default:
		return Target{Kind: TargetInvalid, ID: assignTo}
	}
}

// Rule is an assignment rule decoded once at load time.
type Rule struct {
	ID       uint64
	Name     string
	Priority int
	Raw      string
	Matcher  Matcher
	Target   Target
}

func Compile(r model.AssignmentRule) Rule {
	return Rule{
		ID:       r.ID,
		Name:     r.Name,
		Priority: r.Priority,
		Raw:      r.Rule,
		Matcher:  ParseMatcher(r.Rule),
		Target:   ParseTarget(r.AssignTo),
	}
}

// FindMatchingRule returns the first matching rule in the given order, or nil.
// rules must already be sorted by priority, highest first.
func FindMatchingRule(conv *model.Conversation, lastMessage *model.Message, rules []Rule) *Rule {
	for i := range rules {
		if rules[i].Matcher.Match(conv, lastMessage) {
			return &rules[i]
		}
	}
	return nil
}

func needsLastMessage(rules []Rule) bool {
	for _, r := range rules {
		if r.Matcher.Kind == MatchContains {
			return true
		}
	}
	return false
}
