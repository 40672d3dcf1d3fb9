package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"geoattend/internal/model"
)

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// Window returns the schedule's start and end on the local calendar day of now.
func Window(s model.Schedule, now time.Time, loc *time.Location) (start, end time.Time, err error) {
	sh, sm, err := ParseClock(s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eh, em, err := ParseClock(s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d := now.In(loc).Date()
	start = time.Date(y, m, d, sh, sm, 0, 0, loc)
	end = time.Date(y, m, d, eh, em, 0, 0, loc)
	return start, end, nil
}

// ValidWeekday reports whether day is a full English weekday name.
func ValidWeekday(day string) bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d.String() == day {
			return true
		}
	}
	return false
}

// Evaluate runs the day, time-window and geofence gates in that order and
// returns the first one that fails, or nil. It performs no I/O.
func Evaluate(class model.Class, lat, lon float64, now time.Time, loc *time.Location) (*Rejection, error) {
	local := now.In(loc)
	if !strings.EqualFold(local.Weekday().String(), class.Schedule.DayOfWeek) {
		return wrongDay(class.Schedule.DayOfWeek), nil
	}

	start, end, err := Window(class.Schedule, now, loc)
	if err != nil {
		return nil, fmt.Errorf("class %s schedule: %w", class.ID, err)
	}
	if local.Before(start) || local.After(end) {
		return outsideWindow(), nil
	}

	if class.Location != nil &&
		!WithinRadius(lat, lon, class.Location.Latitude, class.Location.Longitude, class.Radius()) {
		return outOfRange(), nil
	}
	return nil, nil
}
