package scheduler

import (
	"fmt"
	"time"
)

// Schedule computes a job's next run strictly after now.
type Schedule func(now time.Time) time.Time

// Every runs at a fixed interval.
func Every(interval time.Duration) Schedule {
	return func(now time.Time) time.Time {
		return now.Add(interval)
	}
}

// DailyAt runs once a day at hhmm ("HH:MM", UTC).
func DailyAt(hhmm string) (Schedule, error) {
	at, err := time.Parse("15:04", hhmm)
	if err != nil {
		return nil, fmt.Errorf("invalid daily time %q: %w", hhmm, err)
	}
	return func(now time.Time) time.Time {
		now = now.UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}, nil
}
