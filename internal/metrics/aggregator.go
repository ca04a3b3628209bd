// Package metrics derives occupancy, unique-in, and threat counts from the
// buffered event window.
package metrics

import (
	"time"

	"github.com/google/uuid"

	"github.com/campuswatch/attendance-sentry/internal/models"
)

// OccupancyFromBatch accumulates a signed ENTRY/EXIT counter over the batch
// and clamps only the final value to zero. The running sum is allowed to dip
// negative mid-scan (stray EXITs at the start of a window); clamping each
// intermediate step would over-count later entries.
func OccupancyFromBatch(events []models.Event) int {
	sum := 0
	for _, ev := range events {
		switch ev.EventType {
		case models.EventEntry:
			sum++
		case models.EventExit:
			sum--
		}
	}
	if sum < 0 {
		return 0
	}
	return sum
}

// ApplyIncrement folds one newly observed event into the current occupancy.
// Only occupancy is maintained incrementally; unique-in and threat counts
// are always recomputed from the full window via WindowCounts.
func ApplyIncrement(current int, ev models.Event) int {
	switch ev.EventType {
	case models.EventEntry:
		return current + 1
	case models.EventExit:
		if current > 0 {
			return current - 1
		}
		return 0
	}
	return current
}

// WindowCounts scans the buffered window, which is ordered most-recent-first,
// and returns the unique-subjects-inside count and the intruder threat count.
//
// For identified subjects the first status seen in the scan wins: because the
// scan runs newest-first, that is the subject's most recent status. Keyless
// events are deduplicated by evidence URL, falling back to timestamp, falling
// back to a random token. The random fallback means two keyless events with
// no evidence and no distinguishing timestamp count as two intruders.
func WindowCounts(events []models.Event) (uniqueIn, threatCount int) {
	latest := make(map[string]string)
	intruders := make(map[string]struct{})

	for _, ev := range events {
		if ev.Identified() {
			if _, seen := latest[*ev.RollNo]; !seen {
				latest[*ev.RollNo] = ev.EventType
			}
			continue
		}
		if ev.EventType != models.EventEntry {
			continue
		}
		intruders[intruderKey(ev)] = struct{}{}
	}

	for _, status := range latest {
		if status == models.EventEntry {
			uniqueIn++
		}
	}
	return uniqueIn, len(intruders)
}

// RecomputeFromBatch derives all metrics from the buffered window
// (most-recent-first).
func RecomputeFromBatch(events []models.Event) models.DerivedMetrics {
	uniqueIn, threats := WindowCounts(events)
	return models.DerivedMetrics{
		Occupancy:   OccupancyFromBatch(events),
		UniqueIn:    uniqueIn,
		ThreatCount: threats,
	}
}

func intruderKey(ev models.Event) string {
	if ev.EvidenceURL != nil && *ev.EvidenceURL != "" {
		return *ev.EvidenceURL
	}
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp.Format(time.RFC3339Nano)
	}
	return uuid.NewString()
}
