package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// maxCatchUp bounds the walk over missed fire times after a long pause.
const maxCatchUp = 100000

// Coalesce decides a firing that was due at due but observed at now. Every
// fire time missed in between collapses into at most one firing, which runs
// only if the latest missed time is within grace. next is the first fire
// time after now.
func Coalesce(s cron.Schedule, due, now time.Time, grace time.Duration) (fire bool, next time.Time) {
	next = s.Next(now)
	if now.Before(due) {
		return false, due
	}
	latest := due
	for i := 0; i < maxCatchUp; i++ {
		t := s.Next(latest)
		if t.IsZero() || t.After(now) {
			break
		}
		latest = t
	}
	return now.Sub(latest) <= grace, next
}
