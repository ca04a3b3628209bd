// Package attendance computes per-subject attendance durations from paired
// ENTRY/EXIT events.
package attendance

import (
	"fmt"
	"math"

	"github.com/campuswatch/attendance-sentry/internal/models"
)

// ScheduledDayMinutes is the length of a scheduled attendance day used for
// the percentage figure.
const ScheduledDayMinutes = 480.0

// ComputeDuration pairs ENTRY/EXIT events for a single subject and returns
// the accumulated duration and percentage of the scheduled day.
//
// The input must already be filtered to non-spoof events for this subject
// and ordered oldest-to-newest. Pairing rules:
//
//   - an ENTRY opens a session only when none is open; repeated ENTRYs are
//     ignored until the open session closes
//   - an EXIT closes the open session only when its timestamp is strictly
//     after the open ENTRY; stray or out-of-order EXITs are ignored
//   - a trailing unmatched ENTRY contributes nothing
//
// Out-of-order pairs are expected sensor noise, not errors, so they are
// dropped silently. No qualifying events yields a zero summary.
func ComputeDuration(rollNo string, events []models.Event) models.AttendanceSummary {
	total := 0.0
	var openEntry models.Event
	open := false

	for _, ev := range events {
		switch ev.EventType {
		case models.EventEntry:
			if !open {
				openEntry = ev
				open = true
			}
		case models.EventExit:
			if open && ev.Timestamp.After(openEntry.Timestamp) {
				total += ev.Timestamp.Sub(openEntry.Timestamp).Minutes()
				open = false
			}
		}
	}

	pct := total / ScheduledDayMinutes * 100
	if pct > 100 {
		pct = 100
	}
	pct = math.Round(pct*10) / 10

	return models.AttendanceSummary{
		RollNo:       rollNo,
		TotalMinutes: total,
		Percentage:   pct,
		Display:      FormatDuration(total),
		Enrolled:     true,
	}
}

// FormatDuration renders accumulated minutes as whole hours and remaining
// minutes, e.g. "8h 0m".
func FormatDuration(minutes float64) string {
	whole := int(minutes)
	return fmt.Sprintf("%dh %dm", whole/60, whole%60)
}
