package hours

import (
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/conversation-router/internal/model"
)

const (
	fallbackOpenHour = 9
	maxLookaheadDays = 7
)

var dayKeys = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// DayKey maps t to the schedule key of its weekday.
func DayKey(t time.Time) string {
	return dayKeys[t.Weekday()]
}

// ClockTime formats t as the "HH:MM" string the schedule uses.
func ClockTime(t time.Time) string {
	return t.Format("15:04")
}

// IsOpen reports whether t falls inside the schedule. Both boundaries are
// inclusive: a check at exactly openTime or closeTime counts as open.
func IsOpen(s model.WeeklySchedule, t time.Time) bool {
	day, ok := s[DayKey(t)]
	if !ok || !day.Enabled {
		return false
	}
	now := ClockTime(t)
	return day.OpenTime <= now && now <= day.CloseTime
}

// NextOpening returns the earliest instant at or after now when the schedule
// is open. ok is false when no enabled day exists within the next seven days.
func NextOpening(s model.WeeklySchedule, now time.Time) (time.Time, bool) {
	if today, ok := s[DayKey(now)]; ok && today.Enabled && ClockTime(now) < today.CloseTime {
		if open, ok := atClock(now, today.OpenTime); ok {
			if now.After(open) {
				return now, true
			}
			return open, true
		}
	}
	for i := 1; i <= maxLookaheadDays; i++ {
		day := now.AddDate(0, 0, i)
		entry, ok := s[DayKey(day)]
		if !ok || !entry.Enabled {
			continue
		}
		if open, ok := atClock(day, entry.OpenTime); ok {
			return open, true
		}
	}
	return time.Time{}, false
}

// FallbackOpening is tomorrow at 09:00 in now's location.
func FallbackOpening(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), fallbackOpenHour, 0, 0, 0, now.Location())
}

func atClock(day time.Time, hhmm string) (time.Time, bool) {
	h, m, ok := parseClock(hhmm)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), true
}

func parseClock(hhmm string) (int, int, bool) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
