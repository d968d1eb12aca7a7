package hours

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/psds-microservice/conversation-router/internal/deadline"
	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

const scheduleCacheKey = "active"

// ScheduleSource returns the active schedule, or errs.ErrScheduleNotFound.
type ScheduleSource interface {
	ActiveSchedule(ctx context.Context) (*model.BusinessHours, error)
}

// Evaluator answers business-hours questions against the active schedule.
// A missing or unreadable schedule means "always open".
type Evaluator struct {
	source  ScheduleSource
	loc     *time.Location
	cache   *cache.Cache
	timeout time.Duration
	logger  *zap.Logger
}

// NewEvaluator creates an evaluator. cacheTTL <= 0 disables schedule caching.
func NewEvaluator(source ScheduleSource, loc *time.Location, cacheTTL, timeout time.Duration, logger *zap.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	e := &Evaluator{source: source, loc: loc, timeout: timeout, logger: logger}
	if cacheTTL > 0 {
		e.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return e
}

// Location is the zone schedule times are expressed in.
func (e *Evaluator) Location() *time.Location { return e.loc }

// IsWithinBusinessHours fails open.
func (e *Evaluator) IsWithinBusinessHours(ctx context.Context, now time.Time) bool {
	s, ok := e.schedule(ctx)
	if !ok {
		return true
	}
	return IsOpen(s, now.In(e.loc))
}

// NextBusinessHoursOpening falls back to tomorrow 09:00 when nothing opens within a week.
func (e *Evaluator) NextBusinessHoursOpening(ctx context.Context, now time.Time) time.Time {
	local := now.In(e.loc)
	s, ok := e.schedule(ctx)
	if !ok {
		return FallbackOpening(local)
	}
	if next, ok := NextOpening(s, local); ok {
		return next
	}
	e.logger.Warn("business hours: no enabled day within a week, using fallback opening")
	return FallbackOpening(local)
}

// Invalidate drops the cached schedule.
func (e *Evaluator) Invalidate() {
	if e.cache != nil {
		e.cache.Delete(scheduleCacheKey)
	}
}

func (e *Evaluator) schedule(ctx context.Context) (model.WeeklySchedule, bool) {
	if e.cache != nil {
		if v, found := e.cache.Get(scheduleCacheKey); found {
			s, _ := v.(model.WeeklySchedule)
			return s, s != nil
		}
	}

	cctx, cancel := deadline.With(ctx, e.timeout)
	defer cancel()
	bh, err := e.source.ActiveSchedule(cctx)
	switch {
	case errors.Is(err, errs.ErrScheduleNotFound):
		e.logger.Info("business hours: no active schedule, treating as open")
		e.store(model.WeeklySchedule(nil))
		return nil, false
	case err != nil:
		e.logger.Error("business hours: failed to load schedule, treating as open", zap.Error(err))
		return nil, false
	}
	e.store(bh.Schedule)
	return bh.Schedule, bh.Schedule != nil
}

func (e *Evaluator) store(s model.WeeklySchedule) {
	if e.cache != nil {
		e.cache.SetDefault(scheduleCacheKey, s)
	}
}
