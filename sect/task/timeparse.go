package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// ParseTimeOfDay parses "HH:MM" into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("task: invalid time of day %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("task: invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("task: invalid minute in %q", s)
	}
	return hour, minute, nil
}

// ParseWeekly parses "DDD HH:MM" (e.g. "MON 06:00") into a weekday plus
// hour and minute.
func ParseWeekly(s string) (day time.Weekday, hour, minute int, err error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return 0, 0, 0, fmt.Errorf("task: invalid weekly time %q", s)
	}
	day, ok := weekdays[strings.ToUpper(fields[0])]
	if !ok {
		return 0, 0, 0, fmt.Errorf("task: invalid weekday in %q", s)
	}
	hour, minute, err = ParseTimeOfDay(fields[1])
	if err != nil {
		return 0, 0, 0, err
	}
	return day, hour, minute, nil
}
