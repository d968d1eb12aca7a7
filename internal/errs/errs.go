package errs

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrTemplateNotFound     = errors.New("auto-response template not found")
	ErrScheduleNotFound     = errors.New("active business hours schedule not found")
	ErrMetricNotFound       = errors.New("daily metric not found")
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrInvalidPayload       = errors.New("invalid event payload")
)
