package hours

import (
	"testing"
	"time"

	"github.com/psds-microservice/conversation-router/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func mondayOnly() model.WeeklySchedule {
	return model.WeeklySchedule{
		"monday": {Enabled: true, OpenTime: "09:00", CloseTime: "18:00"},
	}
}

func TestDayKey(t *testing.T) {
	assert.Equal(t, "monday", DayKey(at(1, 12, 0)))
	assert.Equal(t, "saturday", DayKey(at(6, 12, 0)))
	assert.Equal(t, "sunday", DayKey(at(7, 12, 0)))
}

func TestIsOpen_InclusiveBoundaries(t *testing.T) {
	s := mondayOnly()
	assert.True(t, IsOpen(s, at(1, 9, 0)))
	assert.True(t, IsOpen(s, at(1, 18, 0)))
	assert.True(t, IsOpen(s, at(1, 12, 30)))
	assert.False(t, IsOpen(s, at(1, 8, 59)))
	assert.False(t, IsOpen(s, at(1, 18, 1)))
}

func TestIsOpen_DisabledOrMissingDay(t *testing.T) {
	s := mondayOnly()
	s["tuesday"] = model.DaySchedule{Enabled: false, OpenTime: "09:00", CloseTime: "18:00"}
	assert.False(t, IsOpen(s, at(2, 12, 0)))
	assert.False(t, IsOpen(s, at(3, 12, 0)))
}

func TestNextOpening_LaterToday(t *testing.T) {
	next, ok := NextOpening(mondayOnly(), at(1, 7, 15))
	require.True(t, ok)
	assert.Equal(t, at(1, 9, 0), next)
}

func TestNextOpening_AlreadyOpenReturnsNow(t *testing.T) {
	now := at(1, 11, 42)
	next, ok := NextOpening(mondayOnly(), now)
	require.True(t, ok)
	assert.Equal(t, now, next)
}

func TestNextOpening_AfterCloseWalksForward(t *testing.T) {
	s := mondayOnly()
	s["wednesday"] = model.DaySchedule{Enabled: true, OpenTime: "10:30", CloseTime: "16:00"}
	next, ok := NextOpening(s, at(1, 19, 0))
	require.True(t, ok)
	assert.Equal(t, at(3, 10, 30), next)
}

func TestNextOpening_OnlyFridayFromSaturday(t *testing.T) {
	s := model.WeeklySchedule{
		"friday": {Enabled: true, OpenTime: "09:00", CloseTime: "17:00"},
	}
	next, ok := NextOpening(s, at(6, 10, 0))
	require.True(t, ok)
	assert.Equal(t, at(12, 9, 0), next)
	assert.True(t, next.Sub(at(6, 10, 0)) <= 7*24*time.Hour)
}

func TestNextOpening_SameWeekdayNextWeek(t *testing.T) {
	next, ok := NextOpening(mondayOnly(), at(1, 18, 30))
	require.True(t, ok)
	assert.Equal(t, at(8, 9, 0), next)
}

func TestNextOpening_NoEnabledDay(t *testing.T) {
	s := model.WeeklySchedule{
		"monday": {Enabled: false, OpenTime: "09:00", CloseTime: "18:00"},
	}
	_, ok := NextOpening(s, at(1, 10, 0))
	assert.False(t, ok)

	_, ok = NextOpening(model.WeeklySchedule{}, at(1, 10, 0))
	assert.False(t, ok)
}

func TestNextOpening_UnparsableOpenTimeSkipsDay(t *testing.T) {
	s := model.WeeklySchedule{
		"tuesday":   {Enabled: true, OpenTime: "9am", CloseTime: "18:00"},
		"wednesday": {Enabled: true, OpenTime: "08:00", CloseTime: "18:00"},
	}
	next, ok := NextOpening(s, at(1, 10, 0))
	require.True(t, ok)
	assert.Equal(t, at(3, 8, 0), next)
}

func TestFallbackOpening(t *testing.T) {
	assert.Equal(t, at(2, 9, 0), FallbackOpening(at(1, 23, 59)))
	assert.Equal(t, time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC),
		FallbackOpening(time.Date(2024, time.January, 31, 4, 0, 0, 0, time.UTC)))
}
