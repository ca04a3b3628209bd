package models

import "time"

// Event types written by the edge sentries.
const (
	EventEntry = "ENTRY"
	EventExit  = "EXIT"
)

// Event is one row of attendance_logs. Rows are written by the detection
// pipeline and never mutated; a nil RollNo means the sentry could not
// resolve an identity (an intruder sighting).
type Event struct {
	ID          int64     `json:"id"`
	RollNo      *string   `json:"roll_no"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"created_at"`
	IsSpoof     bool      `json:"is_spoof"`
	EvidenceURL *string   `json:"evidence_url"`
	CameraID    int       `json:"camera_id"`
}

// Identified reports whether the event carries a resolved subject identity.
func (e Event) Identified() bool {
	return e.RollNo != nil && *e.RollNo != ""
}

// Subject is one row of the students directory, cached at session start.
type Subject struct {
	RollNo   string `json:"roll_no"`
	FullName string `json:"full_name"`
}

// DerivedMetrics is recomputed from the buffered event window; it is never
// persisted.
type DerivedMetrics struct {
	Occupancy   int `json:"occupancy"`
	UniqueIn    int `json:"unique_in"`
	ThreatCount int `json:"threat_count"`
}

// AttendanceSummary is the result of a per-subject attendance search.
type AttendanceSummary struct {
	RollNo          string  `json:"roll_no"`
	FullName        string  `json:"full_name,omitempty"`
	TotalMinutes    float64 `json:"total_minutes"`
	Percentage      float64 `json:"percentage"`
	Display         string  `json:"display"`
	Enrolled        bool    `json:"enrolled"`
	RetrievalFailed bool    `json:"retrieval_failed,omitempty"`
}

// QueryFilter is the structured form of a free-text assistant question,
// built by the translator and consumed by the store.
type QueryFilter struct {
	SpoofEquals  *bool      `json:"spoof_equals,omitempty"`
	RollNoIsNull bool       `json:"roll_no_is_null,omitempty"`
	RollNoIn     []string   `json:"roll_no_in,omitempty"`
	TimestampGte *time.Time `json:"timestamp_gte,omitempty"`
	Label        string     `json:"label"`
}

// EvidenceItem is the image-bearing subset of an event, retained only for
// spoof attempts and intruder sightings.
type EvidenceItem struct {
	EvidenceURL string    `json:"evidence_url"`
	Timestamp   time.Time `json:"created_at"`
	IsSpoof     bool      `json:"is_spoof"`
	RollNo      *string   `json:"roll_no,omitempty"`
	CameraID    int       `json:"camera_id"`
}

// EvidenceFromEvent extracts an EvidenceItem when the event qualifies:
// a spoof or an unidentified sighting, with an evidence image attached.
func EvidenceFromEvent(e Event) (EvidenceItem, bool) {
	if e.EvidenceURL == nil || *e.EvidenceURL == "" {
		return EvidenceItem{}, false
	}
	if !e.IsSpoof && e.Identified() {
		return EvidenceItem{}, false
	}
	return EvidenceItem{
		EvidenceURL: *e.EvidenceURL,
		Timestamp:   e.Timestamp,
		IsSpoof:     e.IsSpoof,
		RollNo:      e.RollNo,
		CameraID:    e.CameraID,
	}, true
}
