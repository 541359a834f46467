package service

import (
	"strings"
	"time"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
)

var scheduleLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduleTime accepts ISO-8601 style timestamps. Values without a zone are read as UTC.
func ParseScheduleTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, appErrors.NewValidation("scheduleTime", "required when scheduleType is later")
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, appErrors.NewValidation("scheduleTime", "invalid schedule time format")
}
