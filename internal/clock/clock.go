// Package clock converts duty-session timestamps and accumulated-seconds
// counters into elapsed durations and human-readable strings. It is a pure
// function layer: no side effects, no errors, no locale dependence.
package clock

import (
	"fmt"
	"strings"
	"time"

	"github.com/crowvale/dutywatch/internal/domain"
)

// ElapsedActive returns the cumulative active seconds of a session as of now.
//
// Rules:
//   - on_duty: seconds since the last resume (LastPausedAt when present,
//     otherwise StartTime) plus the stored accumulator. The displayed value
//     therefore grows continuously between explicit transitions.
//   - paused: the stored accumulator, unchanged — no time accrues while
//     paused.
//   - off_duty: the frozen total recorded when the session ended.
func ElapsedActive(s *domain.DutySession, now time.Time) int64 {
	switch s.Status {
	case domain.StatusOnDuty:
		ref := s.StartTime
		if s.LastPausedAt != nil {
			ref = *s.LastPausedAt
		}
		return int64(now.Sub(ref)/time.Second) + s.ActiveDurationSeconds
	case domain.StatusPaused:
		return s.ActiveDurationSeconds
	default:
		if s.TotalDurationSeconds != nil {
			return *s.TotalDurationSeconds
		}
		return 0
	}
}

// FormatDuration renders a second count as "2 hours, 5 minutes, 1 second".
// Zero-valued higher units are omitted; seconds are always included when no
// other component is non-zero. Zero renders as "0 seconds".
func FormatDuration(seconds int64) string {
	if seconds == 0 {
		return "0 seconds"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if secs > 0 || len(parts) == 0 {
		parts = append(parts, plural(secs, "second"))
	}
	return strings.Join(parts, ", ")
}

// plural renders "1 hour" / "2 hours".
func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
