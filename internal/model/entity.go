package model

import "time"

type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusClosed   ConversationStatus = "closed"
	ConversationStatusArchived ConversationStatus = "archived"
)

type ConversationPriority string

const (
	PriorityHigh   ConversationPriority = "high"
	PriorityMedium ConversationPriority = "medium"
	PriorityLow    ConversationPriority = "low"
)

type ConversationContext string

const (
	ContextAcademic       ConversationContext = "academic"
	ContextAdministrative ConversationContext = "administrative"
	ContextSupport        ConversationContext = "support"
)

type Conversation struct {
	ID           string               `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ChannelID    string               `gorm:"type:varchar(128);index;not null" json:"channel_id"`
	Participants []string             `gorm:"serializer:json;type:text" json:"participants"`
	Status       ConversationStatus   `gorm:"type:varchar(32);index;not null" json:"status"`
	Priority     ConversationPriority `gorm:"type:varchar(32);index" json:"priority"`
	Context      ConversationContext  `gorm:"type:varchar(32)" json:"context"`
	AssignedTo   *string              `gorm:"type:varchar(128);index" json:"assigned_to,omitempty"`

	// nil until the business-hours check ran once.
	ReceivedOutsideBusinessHours *bool `json:"received_outside_business_hours,omitempty"`
	ScheduledResponse            bool  `gorm:"not null;default:false" json:"scheduled_response"`

	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	ClosedAt              *time.Time `json:"closed_at,omitempty"`
	ResolutionTimeMinutes *int       `json:"resolution_time_minutes,omitempty"`
}

func (c *Conversation) IsAssigned() bool {
	return c.AssignedTo != nil && *c.AssignedTo != ""
}

// HoursEvaluation is the business-hours state of a conversation. It moves from
// HoursUnevaluated to one of the evaluated states exactly once.
type HoursEvaluation int

const (
	HoursUnevaluated HoursEvaluation = iota
	HoursInside
	HoursOutside
)

func (h HoursEvaluation) String() string {
	switch h {
	case HoursInside:
		return "inside"
	case HoursOutside:
		return "outside"
	default:
		return "unevaluated"
	}
}

func (c *Conversation) HoursEvaluation() HoursEvaluation {
	switch {
	case c.ReceivedOutsideBusinessHours == nil:
		return HoursUnevaluated
	case *c.ReceivedOutsideBusinessHours:
		return HoursOutside
	default:
		return HoursInside
	}
}

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

type Message struct {
	ID             string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ConversationID string     `gorm:"type:varchar(64);index;not null" json:"conversation_id"`
	SenderID       string     `gorm:"type:varchar(128)" json:"sender_id,omitempty"`
	SenderType     SenderType `gorm:"type:varchar(16);not null" json:"sender_type"`
	Content        string     `gorm:"type:text" json:"content"`
	AutoResponse   bool       `gorm:"not null;default:false;index" json:"auto_response"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
}

type AssignmentRule struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Rule      string    `gorm:"type:varchar(255);not null" json:"rule"`
	AssignTo  string    `gorm:"type:varchar(128);not null" json:"assign_to"`
	Priority  int       `gorm:"not null;default:0;index" json:"priority"`
	Enabled   bool      `gorm:"not null;default:true;index" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TeamMember struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	TeamID    string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_team_user,priority:1" json:"team_id"`
	UserID    string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_team_user,priority:2" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type DaySchedule struct {
	Enabled   bool   `json:"enabled"`
	OpenTime  string `json:"openTime"`
	CloseTime string `json:"closeTime"`
}

// WeeklySchedule is keyed by lower-case day name, "sunday" through "saturday".
type WeeklySchedule map[string]DaySchedule

type BusinessHours struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(255)" json:"name"`
	Schedule  WeeklySchedule `gorm:"serializer:json;type:text;not null" json:"schedule"`
	Active    bool           `gorm:"not null;default:false;index" json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (BusinessHours) TableName() string { return "business_hours" }

const TemplateOutsideBusinessHours = "outside_business_hours"

type AutoResponseTemplate struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"type:varchar(64);not null;index" json:"kind"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Enabled   bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const NotificationConversationAssigned = "conversation_assigned"

type Notification struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID         string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	Type           string    `gorm:"type:varchar(64);not null" json:"type"`
	ConversationID string    `gorm:"type:varchar(64);index" json:"conversation_id"`
	Title          string    `gorm:"type:varchar(255)" json:"title"`
	Body           string    `gorm:"type:text" json:"body"`
	Read           bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	QueueReasonOutsideBusinessHours = "outside_business_hours"
	QueueReasonNoAssignee           = "no_assignee"
)

type QueueEntry struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ConversationID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"conversation_id"`
	Reason         string    `gorm:"type:varchar(64);not null" json:"reason"`
	Priority       string    `gorm:"type:varchar(32)" json:"priority,omitempty"`
	Attempt        int       `gorm:"not null;default:0" json:"attempt"`
	CreatedAt      time.Time `json:"created_at"`
	ProcessAfter   time.Time `gorm:"index;not null" json:"process_after"`
}

type DailyMetric struct {
	Date                  string               `gorm:"primaryKey;type:varchar(10)" json:"date"`
	TotalConversations    int                  `gorm:"not null;default:0" json:"total_conversations"`
	ResolvedConversations int                  `gorm:"not null;default:0" json:"resolved_conversations"`
	TotalResolutionTime   int                  `gorm:"not null;default:0" json:"total_resolution_time"`
	AvgResolutionTime     int                  `gorm:"not null;default:0" json:"avg_resolution_time"`
	ChannelMetrics        []DailyChannelMetric `gorm:"foreignKey:Date;references:Date" json:"channel_metrics"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

type DailyChannelMetric struct {
	Date                string    `gorm:"primaryKey;type:varchar(10)" json:"-"`
	ChannelID           string    `gorm:"primaryKey;type:varchar(128)" json:"channel_id"`
	Resolved            int       `gorm:"not null;default:0" json:"resolved"`
	TotalResolutionTime int       `gorm:"not null;default:0" json:"total_resolution_time"`
	AvgResolutionTime   int       `gorm:"not null;default:0" json:"avg_resolution_time"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;type:varchar(64)" json:"event_id"`
	Type        string    `gorm:"type:varchar(64);not null" json:"type"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}

// All lists every persisted model, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Conversation{},
		&Message{},
		&AssignmentRule{},
		&TeamMember{},
		&BusinessHours{},
		&AutoResponseTemplate{},
		&Notification{},
		&QueueEntry{},
		&DailyMetric{},
		&DailyChannelMetric{},
		&ProcessedEvent{},
	}
}
