package publisher

import (
	"fmt"
	"time"
)

const optimalHour = 19

// ScheduleTime resolves a schedule mode to a concrete post time. A nil result
// means publish immediately. The optimal mode targets the next occurrence of
// 19:00 in the given location.
func ScheduleTime(mode string, now time.Time) (*time.Time, error) {
	switch mode {
	case "", "immediate":
		return nil, nil
	case "1h":
		at := now.Add(time.Hour)
		return &at, nil
	case "2h":
		at := now.Add(2 * time.Hour)
		return &at, nil
	case "4h":
		at := now.Add(4 * time.Hour)
		return &at, nil
	case "optimal":
		at := time.Date(now.Year(), now.Month(), now.Day(), optimalHour, 0, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return &at, nil
	default:
		return nil, fmt.Errorf("unknown schedule mode %q", mode)
	}
}
